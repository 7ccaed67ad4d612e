package config

// Lua schema field names and globals
const (
	luaGlobalGuardian = "guardian"

	luaFieldArtifact = "artifact"
	luaFieldName     = "name"
	luaFieldPrimary  = "primary"
	luaFieldSource   = "source"

	luaFieldTiers       = "tiers"
	luaFieldLocalBackup = "local_backup"
	luaFieldHardlinks   = "hardlinks"
	luaFieldContainer   = "container"
	luaFieldVault       = "vault"
	luaFieldIdentity    = "identity"
	luaFieldMount       = "mount"
	luaFieldRemote      = "remote"
	luaFieldBaseURL     = "base_url"
	luaFieldKeyring     = "keyring"
	luaFieldEnabled     = "enabled"

	luaFieldLedger = "ledger"
	luaFieldFiles  = "files"
	luaFieldRepo   = "repo"

	luaFieldBuild    = "build"
	luaFieldCompiler = "compiler"
	luaFieldArgs     = "args"
)
