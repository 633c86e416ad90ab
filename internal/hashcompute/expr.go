package hashcompute

import (
	"fmt"
	"strings"

	"github.com/gkze/nix-update-engine/internal/flakelock"
)

// compactNixExpr collapses a generated Nix expression onto a single
// line, matching lib/update/nix_expr.py's compact_nix_expr.
func compactNixExpr(expr string) string {
	var lines []string
	for _, line := range strings.Split(expr, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, " ")
}

// nixpkgsExpr builds a nixpkgs import expression from the pinned
// "nixpkgs" flake input, following the root node's indirection the
// same way lib/update/flake.py's nixpkgs_expr does.
func (c *Computer) nixpkgsExpr() (string, error) {
	lock, err := c.flake()
	if err != nil {
		return "", fmt.Errorf("hashcompute: loading flake.lock: %w", err)
	}

	nodeName := "nixpkgs"
	if root, ok := lock.RootNode(); ok && root.Inputs != nil {
		if ref, ok := root.Inputs["nixpkgs"]; ok && !ref.IsPath() {
			nodeName = ref.Name
		}
	}
	node, ok := lock.Nodes[nodeName]
	if !ok || node.Locked == nil {
		return "", fmt.Errorf("hashcompute: flake input %q has no locked ref", nodeName)
	}
	locked := node.Locked
	if locked.Type != "github" && locked.Type != "gitlab" {
		return "", fmt.Errorf("hashcompute: unsupported flake input type %q for nixpkgs", locked.Type)
	}
	if locked.Owner == "" || locked.Repo == "" || locked.Rev == "" {
		return "", fmt.Errorf("hashcompute: incomplete locked ref for nixpkgs: missing owner/repo/rev")
	}

	fetchTree := fmt.Sprintf(
		`builtins.fetchTree { type = "%s"; owner = "%s"; repo = "%s"; rev = "%s"; narHash = "%s"; }`,
		locked.Type, locked.Owner, locked.Repo, locked.Rev, locked.NarHash,
	)
	return compactNixExpr(fmt.Sprintf(`import (%s) { system = builtins.currentSystem; }`, fetchTree)), nil
}

// buildOverlayExpr builds a Nix expression that evaluates the named
// overlay package via a manual fixed point instead of the normal
// `import nixpkgs { overlays = [...]; }` path.
//
// That normal path triggers `with self;` in nixpkgs'
// pkgs/top-level/aliases.nix, which re-enters the overlay before its
// own attributes are defined and produces infinite recursion on
// current nixpkgs revisions. The fixed point below builds the
// self-referential attribute set outside of nixpkgs' own overlay
// machinery so `final` resolves correctly without hitting that trap.
// This is a required part of the specification, not an optimization.
func (c *Computer) buildOverlayExpr(source string, system string) string {
	systemExpr := "builtins.currentSystem"
	if system != "" {
		systemExpr = fmt.Sprintf("%q", system)
	}
	flakeURL := fmt.Sprintf("git+file://%s?dirty=1", c.repoRoot)

	expr := fmt.Sprintf(`
		let
		  flake = builtins.getFlake "%s";
		  system = %s;
		  pkgs = import flake.inputs.nixpkgs {
		    inherit system;
		    config = { allowUnfree = true; allowInsecurePredicate = _: true; };
		  };
		  applied = pkgs.lib.fix (self: pkgs // flake.overlays.default self pkgs);
		in applied."%s"
	`, flakeURL, systemExpr, source)
	return compactNixExpr(expr)
}
