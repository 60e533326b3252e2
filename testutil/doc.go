// Package testutil provides fixtures and fakes for featuresync tests.
//
// Dataset seeds a memory store with the Laadpaal point layer and the
// Zoekgebied polygon layer. Both carry a coded-value domain on the
// propagated field, with different codes for the same names, so translation
// is exercised by default.
//
// NoticeRecorder captures notices. MockNATSClient replaces natsclient.Client
// for core publish and subscribe without a server.
package testutil
