// Package feature defines the data model shared by the propagation pipeline:
// feature references, snapshots, field domains, change sets and edit events.
package feature

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Ref identifies a feature within a layer. ObjectID is the primary key; GlobalID
// is the fallback used while a freshly created feature has no object id yet.
type Ref struct {
	ObjectID int64  `json:"objectId,omitempty"`
	GlobalID string `json:"globalId,omitempty"`
}

// ObjectRef returns a Ref for a server-assigned object id.
func ObjectRef(oid int64) Ref {
	return Ref{ObjectID: oid}
}

// GlobalRef returns a Ref for a global id.
func GlobalRef(gid string) Ref {
	return Ref{GlobalID: NormalizeGlobalID(gid)}
}

// HasObjectID reports whether the object id is known.
func (r Ref) HasObjectID() bool { return r.ObjectID > 0 }

// HasGlobalID reports whether the global id is known.
func (r Ref) HasGlobalID() bool { return r.GlobalID != "" }

// IsZero reports whether neither id is known.
func (r Ref) IsZero() bool { return !r.HasObjectID() && !r.HasGlobalID() }

// Key returns a stable map key, preferring the object id.
func (r Ref) Key() string {
	if r.HasObjectID() {
		return "oid:" + strconv.FormatInt(r.ObjectID, 10)
	}
	if r.HasGlobalID() {
		return "gid:" + r.GlobalID
	}
	return ""
}

// String implements fmt.Stringer.
func (r Ref) String() string {
	switch {
	case r.HasObjectID() && r.HasGlobalID():
		return strconv.FormatInt(r.ObjectID, 10) + "/" + r.GlobalID
	case r.HasObjectID():
		return strconv.FormatInt(r.ObjectID, 10)
	default:
		return r.GlobalID
	}
}

// Matches reports whether both refs share an id.
func (r Ref) Matches(other Ref) bool {
	if r.HasObjectID() && other.HasObjectID() {
		return r.ObjectID == other.ObjectID
	}
	if r.HasGlobalID() && other.HasGlobalID() {
		return r.GlobalID == other.GlobalID
	}
	return false
}

// NormalizeGlobalID canonicalises a GUID: braces stripped, lower case. Strings
// that do not parse as a UUID are only trimmed.
func NormalizeGlobalID(gid string) string {
	gid = strings.TrimSpace(gid)
	if gid == "" {
		return ""
	}
	if id, err := uuid.Parse(gid); err == nil {
		return id.String()
	}
	return gid
}

// BracedGlobalID renders a normalised global id in the braced upper-case form
// used by ArcGIS feature services.
func BracedGlobalID(gid string) string {
	if gid == "" {
		return ""
	}
	return "{" + strings.ToUpper(gid) + "}"
}
