package hashcompute

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/gkze/nix-update-engine/internal/event"
	"github.com/gkze/nix-update-engine/internal/forge"
)

// CargoLockGitDep names one git-sourced crate dependency to resolve
// from an upstream Cargo.lock: GitDep is the key used in the resulting
// HashCollection, MatchName is the crate-name prefix used to find it
// when GitDep itself is not a literal crate name (workspaces sometimes
// rename the dependency).
type CargoLockGitDep struct {
	GitDep    string
	MatchName string
}

var cargoLockGitSourcePattern = regexp.MustCompile(`^source = "git\+(?P<url>[^?#]+)\?[^#]*#(?P<commit>[0-9a-f]+)"$`)

// parseCargoLockGitSources scans a Cargo.lock's text for [[package]]
// blocks and returns {git_dep_name: (url, commit)} for each entry in
// deps, matching by exact "name-version" key first and falling back to
// a unique crate-name prefix match (workspaces can share one git URL
// across multiple crates).
func parseCargoLockGitSources(lockfileContent string, deps []CargoLockGitDep) (map[string][2]string, error) {
	result := make(map[string][2]string)
	unmatched := make(map[string]CargoLockGitDep, len(deps))
	for _, d := range deps {
		unmatched[d.GitDep] = d
	}

	selectDep := func(depKey, crateName string) (CargoLockGitDep, bool) {
		if d, ok := unmatched[depKey]; ok {
			return d, true
		}
		var matches []CargoLockGitDep
		for _, d := range unmatched {
			if strings.HasPrefix(crateName, d.MatchName) {
				matches = append(matches, d)
			}
		}
		if len(matches) == 1 {
			return matches[0], true
		}
		return CargoLockGitDep{}, false
	}

	var currentName, currentVersion string
	for _, raw := range strings.Split(lockfileContent, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "name = "):
			currentName = extractQuoted(line)
			currentVersion = ""
		case strings.HasPrefix(line, "version = ") && strings.Contains(line, `"`):
			currentVersion = extractQuoted(line)
		case strings.HasPrefix(line, "source = ") && currentName != "":
			m := cargoLockGitSourcePattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			url, commit := m[1], m[2]
			depKey := currentName
			if currentVersion != "" {
				depKey = currentName + "-" + currentVersion
			}
			if dep, ok := selectDep(depKey, currentName); ok {
				result[dep.GitDep] = [2]string{url, commit}
				delete(unmatched, dep.GitDep)
			}
		}
	}

	if len(unmatched) > 0 {
		names := make([]string, 0, len(unmatched))
		for name := range unmatched {
			names = append(names, name)
		}
		return nil, fmt.Errorf("hashcompute: could not find git sources in Cargo.lock for: %v", names)
	}
	return result, nil
}

func extractQuoted(line string) string {
	parts := strings.SplitN(line, `"`, 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// prefetchGitHash fetches a git repo at rev and yields its SRI narHash
// via `nix eval --json --expr (builtins.fetchGit {...}).narHash`.
func (c *Computer) prefetchGitHash(ctx context.Context, source, url, rev string) <-chan event.Event {
	out := make(chan event.Event)
	runID := uuid.New()

	go func() {
		defer close(out)

		expr := compactNixExpr(fmt.Sprintf(
			`(builtins.fetchGit { url = %q; rev = %q; allRefs = true; }).narHash`,
			url, rev,
		))
		args := []string{c.nixBin, "eval", "--json", "--expr", expr}

		result, err := runCollected(ctx, runID, source, args, nil, c.cfg.SubprocessTimeout)
		if err != nil {
			out <- event.Error(runID, source, err)
			return
		}
		if result.ReturnCode != 0 {
			out <- event.Error(runID, source, fmt.Errorf("builtins.fetchGit failed: %s", result.Stderr))
			return
		}

		var sriHash string
		if err := json.Unmarshal([]byte(result.Stdout), &sriHash); err != nil {
			out <- event.Error(runID, source, fmt.Errorf("unexpected hash format from builtins.fetchGit: %w", err))
			return
		}
		out <- event.Value(runID, source, sriHash)
	}()

	return out
}

// ComputeImportCargoLockOutputHashes resolves importCargoLock output
// hashes by fetching the upstream Cargo.lock for inputName's locked
// commit via client, parsing its git-dependency sources, and
// prefetching each one's narHash directly — avoiding a full nixpkgs
// evaluation and working regardless of inter-repo workspace
// dependencies. It yields a single KindValue event carrying a
// map[string]string of GitDep name to SRI hash.
func (c *Computer) ComputeImportCargoLockOutputHashes(
	ctx context.Context,
	source, inputName, lockfilePath string,
	deps []CargoLockGitDep,
	client forge.Client,
) <-chan event.Event {
	out := make(chan event.Event)
	runID := uuid.New()

	go func() {
		defer close(out)

		out <- event.Status(runID, source, "fetching upstream Cargo.lock")

		lock, err := c.flake()
		if err != nil {
			out <- event.Error(runID, source, err)
			return
		}
		locked, ok := lock.GetLocked(inputName)
		if !ok {
			out <- event.Error(runID, source, fmt.Errorf("flake input %q has no locked info", inputName))
			return
		}
		if locked.Owner == "" || locked.Repo == "" || locked.Rev == "" {
			out <- event.Error(runID, source, fmt.Errorf("flake input %q missing owner/repo/rev in locked info", inputName))
			return
		}

		content, err := client.FetchRawFile(ctx, locked.Owner, locked.Repo, locked.Rev, lockfilePath)
		if err != nil {
			out <- event.Error(runID, source, err)
			return
		}

		gitSources, err := parseCargoLockGitSources(string(content), deps)
		if err != nil {
			out <- event.Error(runID, source, err)
			return
		}

		producers := make(map[string]func(context.Context) <-chan event.Event, len(deps))
		for _, dep := range deps {
			pair := gitSources[dep.GitDep]
			url, rev := pair[0], pair[1]
			producers[dep.GitDep] = func(ctx context.Context) <-chan event.Event {
				return c.prefetchGitHash(ctx, source, url, rev)
			}
		}

		gathered := event.GatherEventStreams(ctx, source, producers)
		for ev := range gathered {
			if ev.Kind == event.KindValue {
				if g, ok := ev.Payload.(event.Gathered); ok {
					hashes := make(map[string]string, len(g.Values))
					for name, v := range g.Values {
						if s, ok := v.(string); ok {
							hashes[name] = s
						}
					}
					out <- event.Value(runID, source, hashes)
					continue
				}
			}
			out <- ev
		}
	}()

	return out
}
