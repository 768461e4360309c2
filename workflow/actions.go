package workflow

import (
	"fmt"
	"strings"
)

// Built-in actions. A `uses:` step names one of these, optionally pinned
// to a version with `name@version`, and is expanded at compile time into
// plain shell commands. Anything the runner cannot expand here is a
// compile error, not a runtime one.

var ErrUnknownAction = fmt.Errorf("unknown action")

type actionFunc func(args actionArgs) ([]string, error)

type actionArgs struct {
	version string
	with    map[string]string
	trigger Trigger
	clone   CloneOpts
}

var actions = map[string]actionFunc{
	"checkout":         checkoutAction,
	"setup-protoc":     setupProtocAction,
	"rustup-component": rustupComponentAction,
	"rustup-target":    rustupTargetAction,
}

// ExpandAction resolves a `uses:` reference into the commands of a
// single step.
func ExpandAction(uses string, with map[string]string, trigger Trigger, clone CloneOpts) ([]string, error) {
	name, version := parseUses(uses)

	fn, ok := actions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}

	return fn(actionArgs{
		version: version,
		with:    with,
		trigger: trigger,
		clone:   clone,
	})
}

func parseUses(uses string) (name, version string) {
	name, version, _ = strings.Cut(uses, "@")
	return name, version
}

// checkoutAction generates git clone commands. The working directory is
// the workspace; the engine guarantees that before any step runs.
//
// The generated commands are:
// - git init
// - git remote add origin <url>
// - git fetch --depth=<d> [--recurse-submodules=yes] origin [<sha>]
// - git checkout FETCH_HEAD
func checkoutAction(args actionArgs) ([]string, error) {
	if args.trigger.Repo == nil {
		return nil, fmt.Errorf("checkout: trigger has no repo")
	}

	sha, err := args.trigger.Sha()
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}

	fetchArgs := []string{}

	// default clone depth is 1
	depth := args.clone.Depth
	if depth == 0 {
		depth = 1
	}
	fetchArgs = append(fetchArgs, fmt.Sprintf("--depth=%d", depth))

	if args.clone.IncludeSubmodules {
		fetchArgs = append(fetchArgs, "--recurse-submodules=yes")
	}

	fetchArgs = append(fetchArgs, "origin")
	if sha != "" {
		fetchArgs = append(fetchArgs, sha)
	} else {
		fetchArgs = append(fetchArgs, args.trigger.Ref())
	}

	return []string{
		"git init",
		fmt.Sprintf("git remote add origin %s", args.trigger.Repo.CloneURL),
		fmt.Sprintf("git fetch %s", strings.Join(fetchArgs, " ")),
		"git checkout --progress --force FETCH_HEAD",
	}, nil
}

// setupProtocAction installs a pinned protobuf compiler release onto the
// image's tool path. The version pin is mandatory; a floating protoc is
// exactly the kind of drift a CI run exists to rule out.
func setupProtocAction(args actionArgs) ([]string, error) {
	version := args.version
	if v, ok := args.with["version"]; ok {
		version = v
	}
	if version == "" {
		return nil, fmt.Errorf("setup-protoc: version is required (e.g. setup-protoc@3.6.1)")
	}

	release := fmt.Sprintf(
		"https://github.com/protocolbuffers/protobuf/releases/download/v%s/protoc-%s-linux-x86_64.zip",
		version, version,
	)

	return []string{
		fmt.Sprintf("curl -fsSLo /tmp/protoc.zip %s", release),
		"unzip -oq /tmp/protoc.zip -d /usr/local bin/protoc 'include/*'",
		"rm /tmp/protoc.zip",
		"protoc --version",
	}, nil
}

// rustupComponentAction adds toolchain components, e.g. rustfmt and
// clippy.
func rustupComponentAction(args actionArgs) ([]string, error) {
	components := splitList(args.with["components"])
	if len(components) == 0 {
		return nil, fmt.Errorf("rustup-component: `with.components` is required")
	}

	return []string{
		fmt.Sprintf("rustup component add %s", strings.Join(components, " ")),
	}, nil
}

// rustupTargetAction registers an additional compilation target, e.g.
// wasm32-unknown-unknown.
func rustupTargetAction(args actionArgs) ([]string, error) {
	targets := splitList(args.with["target"])
	if len(targets) == 0 {
		return nil, fmt.Errorf("rustup-target: `with.target` is required")
	}

	return []string{
		fmt.Sprintf("rustup target add %s", strings.Join(targets, " ")),
	}, nil
}

func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n'
	})
	return fields
}
