// Package platform provides the OS secret-store backends for KeyVault:
// keychain, credential manager, and secret-service daemon.
//
// The concrete system calls live behind the NativeStore interface and
// are supplied by the host application; this package owns everything
// above them: error normalization, per-store item-size limits, and the
// shared storage pipeline. Platform selection happens once at factory
// construction via a capability probe, never at call sites.
package platform
