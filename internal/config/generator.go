package config

import (
	"bytes"
	"fmt"
	"time"
)

// Generator generates Lua configuration code from Go structs.
type Generator struct {
	indent string
}

// NewGenerator creates a new Lua config generator.
func NewGenerator() *Generator {
	return &Generator{indent: "  "}
}

// Generate renders a Config as formatted, human-readable Lua.
func (g *Generator) Generate(config *Config) (string, error) {
	var buf bytes.Buffer

	buf.WriteString("-- Guardian configuration\n")
	buf.WriteString("-- Generated: ")
	buf.WriteString(time.Now().UTC().Format(time.RFC3339))
	buf.WriteString("\n\n")

	buf.WriteString("guardian = {\n")

	g.writeArtifact(&buf, config.Artifact)
	g.writeTiers(&buf, config.Tiers)

	if len(config.Ledger.Files) > 0 || config.Ledger.Repo != "" {
		g.writeLedger(&buf, config.Ledger)
	}
	if config.Build.Compiler != "" {
		g.writeBuild(&buf, config.Build)
	}

	buf.WriteString("}\n")
	return buf.String(), nil
}

func (g *Generator) writeArtifact(buf *bytes.Buffer, artifact Artifact) {
	fmt.Fprintf(buf, "%sartifact = {\n", g.indent)
	fmt.Fprintf(buf, "%s%sname = %q,\n", g.indent, g.indent, artifact.Name)
	fmt.Fprintf(buf, "%s%sprimary = %q,\n", g.indent, g.indent, artifact.Primary)
	if artifact.Source != "" {
		fmt.Fprintf(buf, "%s%ssource = %q,\n", g.indent, g.indent, artifact.Source)
	}
	fmt.Fprintf(buf, "%s},\n", g.indent)
}

func (g *Generator) writeTiers(buf *bytes.Buffer, tiers Tiers) {
	fmt.Fprintf(buf, "%stiers = {\n", g.indent)
	fmt.Fprintf(buf, "%s%slocal_backup = %q,\n", g.indent, g.indent, tiers.LocalBackup)

	fmt.Fprintf(buf, "%s%shardlinks = {\n", g.indent, g.indent)
	for _, path := range tiers.Hardlinks {
		fmt.Fprintf(buf, "%s%s%s%q,\n", g.indent, g.indent, g.indent, path)
	}
	fmt.Fprintf(buf, "%s%s},\n", g.indent, g.indent)

	if tiers.Container.Enabled() {
		fmt.Fprintf(buf, "%s%scontainer = {\n", g.indent, g.indent)
		fmt.Fprintf(buf, "%s%s%svault = %q,\n", g.indent, g.indent, g.indent, tiers.Container.Vault)
		fmt.Fprintf(buf, "%s%s%sidentity = %q,\n", g.indent, g.indent, g.indent, tiers.Container.Identity)
		fmt.Fprintf(buf, "%s%s%smount = %q,\n", g.indent, g.indent, g.indent, tiers.Container.Mount)
		fmt.Fprintf(buf, "%s%s},\n", g.indent, g.indent)
	}

	if tiers.Remote.Enabled {
		fmt.Fprintf(buf, "%s%sremote = {\n", g.indent, g.indent)
		fmt.Fprintf(buf, "%s%s%senabled = true,\n", g.indent, g.indent, g.indent)
		if tiers.Remote.BaseURL != "" {
			fmt.Fprintf(buf, "%s%s%sbase_url = %q,\n", g.indent, g.indent, g.indent, tiers.Remote.BaseURL)
		}
		if tiers.Remote.Keyring != "" {
			fmt.Fprintf(buf, "%s%s%skeyring = %q,\n", g.indent, g.indent, g.indent, tiers.Remote.Keyring)
		}
		fmt.Fprintf(buf, "%s%s},\n", g.indent, g.indent)
	}

	fmt.Fprintf(buf, "%s},\n", g.indent)
}

func (g *Generator) writeLedger(buf *bytes.Buffer, ledger Ledger) {
	fmt.Fprintf(buf, "%sledger = {\n", g.indent)
	if ledger.Repo != "" {
		fmt.Fprintf(buf, "%s%srepo = %q,\n", g.indent, g.indent, ledger.Repo)
	}
	if len(ledger.Files) > 0 {
		fmt.Fprintf(buf, "%s%sfiles = {\n", g.indent, g.indent)
		for _, path := range ledger.Files {
			fmt.Fprintf(buf, "%s%s%s%q,\n", g.indent, g.indent, g.indent, path)
		}
		fmt.Fprintf(buf, "%s%s},\n", g.indent, g.indent)
	}
	fmt.Fprintf(buf, "%s},\n", g.indent)
}

func (g *Generator) writeBuild(buf *bytes.Buffer, build Build) {
	fmt.Fprintf(buf, "%sbuild = {\n", g.indent)
	fmt.Fprintf(buf, "%s%scompiler = %q,\n", g.indent, g.indent, build.Compiler)
	if len(build.Args) > 0 {
		fmt.Fprintf(buf, "%s%sargs = {", g.indent, g.indent)
		for i, arg := range build.Args {
			if i > 0 {
				buf.WriteString(", ")
			}
			fmt.Fprintf(buf, "%q", arg)
		}
		buf.WriteString("},\n")
	}
	fmt.Fprintf(buf, "%s},\n", g.indent)
}
