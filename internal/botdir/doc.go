// Package botdir maintains the directory of configured bot identities for a
// messaging channel and decides which bot serves which workspace.
//
// Resolution order: explicit bot id, then workspace mapping, then the
// configured default, then the first configured bot. A legacy single-token
// configuration is honored as a bot with id "default" when no bot list is
// present. The directory is immutable after construction.
package botdir
