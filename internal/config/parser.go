package config

import (
	"context"
	"fmt"
	"os"

	lua "github.com/yuin/gopher-lua"

	"github.com/guardianshell/guardian/internal/platform"
)

// Parser parses guardian Lua configurations with platform detection.
type Parser struct {
	detector platform.Detector
}

// NewParser creates a config parser with the given platform detector.
// A nil detector disables the injected platform table.
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector}
}

// ParseFile parses and validates the Lua config at path.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Config, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return p.ParseString(ctx, string(code))
}

// ParseString parses and validates a Lua config from a string.
// This is useful for testing and in-memory config generation.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Config, error) {
	L := newSandboxedVM()
	defer L.Close()

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, info); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}

	if err := L.DoString(luaCode); err != nil {
		return nil, &ParseError{
			Message: "Lua syntax error",
			Detail:  err.Error(),
		}
	}

	config, err := extractConfig(L)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ParseError represents a config parsing error with a friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// extractConfig extracts the config from the Lua state. It expects a
// global "guardian" table.
func extractConfig(L *lua.LState) (*Config, error) {
	guardianTable := L.GetGlobal(luaGlobalGuardian)
	if guardianTable.Type() != lua.LTTable {
		return nil, &ParseError{
			Message: "missing or invalid 'guardian' table",
			Detail:  fmt.Sprintf("expected table, got %s", guardianTable.Type()),
		}
	}

	config := &Config{}
	table := guardianTable.(*lua.LTable)

	if artifactVal := table.RawGetString(luaFieldArtifact); artifactVal.Type() == lua.LTTable {
		extractArtifact(artifactVal.(*lua.LTable), &config.Artifact)
	}

	if tiersVal := table.RawGetString(luaFieldTiers); tiersVal.Type() == lua.LTTable {
		if err := extractTiers(tiersVal.(*lua.LTable), &config.Tiers); err != nil {
			return nil, err
		}
	}

	if ledgerVal := table.RawGetString(luaFieldLedger); ledgerVal.Type() == lua.LTTable {
		ledgerTable := ledgerVal.(*lua.LTable)
		config.Ledger.Repo = stringField(ledgerTable, luaFieldRepo)
		files, err := stringList(ledgerTable, luaFieldFiles)
		if err != nil {
			return nil, err
		}
		config.Ledger.Files = files
	}

	if buildVal := table.RawGetString(luaFieldBuild); buildVal.Type() == lua.LTTable {
		buildTable := buildVal.(*lua.LTable)
		config.Build.Compiler = stringField(buildTable, luaFieldCompiler)
		args, err := stringList(buildTable, luaFieldArgs)
		if err != nil {
			return nil, err
		}
		config.Build.Args = args
	}

	return config, nil
}

func extractArtifact(table *lua.LTable, artifact *Artifact) {
	artifact.Name = stringField(table, luaFieldName)
	artifact.Primary = stringField(table, luaFieldPrimary)
	artifact.Source = stringField(table, luaFieldSource)
}

func extractTiers(table *lua.LTable, tiers *Tiers) error {
	tiers.LocalBackup = stringField(table, luaFieldLocalBackup)

	hardlinks, err := stringList(table, luaFieldHardlinks)
	if err != nil {
		return err
	}
	tiers.Hardlinks = hardlinks

	if containerVal := table.RawGetString(luaFieldContainer); containerVal.Type() == lua.LTTable {
		containerTable := containerVal.(*lua.LTable)
		tiers.Container.Vault = stringField(containerTable, luaFieldVault)
		tiers.Container.Identity = stringField(containerTable, luaFieldIdentity)
		tiers.Container.Mount = stringField(containerTable, luaFieldMount)
	}

	if remoteVal := table.RawGetString(luaFieldRemote); remoteVal.Type() == lua.LTTable {
		remoteTable := remoteVal.(*lua.LTable)
		tiers.Remote.BaseURL = stringField(remoteTable, luaFieldBaseURL)
		tiers.Remote.Keyring = stringField(remoteTable, luaFieldKeyring)
		tiers.Remote.Enabled = boolField(remoteTable, luaFieldEnabled)
	}

	return nil
}

// stringField reads a string field, returning "" for nil or non-string.
func stringField(table *lua.LTable, field string) string {
	val := table.RawGetString(field)
	if val.Type() != lua.LTString {
		return ""
	}
	return string(val.(lua.LString))
}

// boolField reads a boolean field, returning false for nil or non-bool.
func boolField(table *lua.LTable, field string) bool {
	val := table.RawGetString(field)
	if val.Type() != lua.LTBool {
		return false
	}
	return bool(val.(lua.LBool))
}

// stringList reads an array-style table of strings. Entries produced as
// nil by platform conditionals (e.g. when(platform.is_linux, path)) are
// skipped.
func stringList(table *lua.LTable, field string) ([]string, error) {
	val := table.RawGetString(field)
	if val.Type() == lua.LTNil {
		return nil, nil
	}
	if val.Type() != lua.LTTable {
		return nil, &ParseError{
			Message: fmt.Sprintf("invalid '%s' list", field),
			Detail:  fmt.Sprintf("expected table, got %s", val.Type()),
		}
	}

	var out []string
	var parseErr error
	val.(*lua.LTable).ForEach(func(_, item lua.LValue) {
		if parseErr != nil || item.Type() == lua.LTNil {
			return
		}
		if item.Type() != lua.LTString {
			parseErr = &ParseError{
				Message: fmt.Sprintf("invalid '%s' entry", field),
				Detail:  fmt.Sprintf("expected string, got %s", item.Type()),
			}
			return
		}
		out = append(out, string(item.(lua.LString)))
	})

	return out, parseErr
}
