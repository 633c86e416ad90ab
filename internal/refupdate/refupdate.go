// Package refupdate implements the ref-update path (spec §4.6): the
// engine's second update strategy, sitting alongside internal/updater's
// hash-entry strategies. Where a hash-entry updater recomputes source
// hashes for a pinned flake input, a ref-update input is one whose
// original ref already looks like a version tag (e.g. "v1.4.2") — its
// update consists entirely of finding a newer tag upstream, rewriting
// the flake input to point at it, and re-locking.
//
// Grounded on original_source/update/refs.py, the canonical (newer)
// version of this logic — preferred here over the older duplicate
// folded into lib/update/cli.py's ref handling.
package refupdate

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/gkze/nix-update-engine/internal/engineerr"
	"github.com/gkze/nix-update-engine/internal/event"
	"github.com/gkze/nix-update-engine/internal/flakelock"
	"github.com/gkze/nix-update-engine/internal/forge"
	"github.com/gkze/nix-update-engine/internal/procx"
)

// branchRefNames are original refs known to be branch names, never
// version tags, regardless of whether they contain a digit.
var branchRefNames = map[string]struct{}{
	"master":            {},
	"main":              {},
	"nixos-unstable":   {},
	"nixos-stable":     {},
	"nixpkgs-unstable": {},
}

// minCommitHexLen is the shortest hex string treated as a commit SHA
// rather than a version ref.
const minCommitHexLen = 7

var (
	hexPattern    = regexp.MustCompile(`^[0-9a-f]+$`)
	digitPattern  = regexp.MustCompile(`\d`)
	prefixPattern = regexp.MustCompile(`^(.*?)\d`)
)

// isVersionRef reports whether ref looks like a version tag rather than
// a branch name or commit SHA.
func isVersionRef(ref string) bool {
	if _, ok := branchRefNames[ref]; ok {
		return false
	}
	if strings.HasPrefix(ref, "nixos-") || strings.HasPrefix(ref, "nixpkgs-") {
		return false
	}
	if hexPattern.MatchString(ref) && len(ref) >= minCommitHexLen {
		return false
	}
	return digitPattern.MatchString(ref)
}

// extractVersionPrefix returns the textual prefix of ref before its
// first digit (e.g. "v" for "v1.2.3", "" for "2024.01.01").
func extractVersionPrefix(ref string) string {
	m := prefixPattern.FindStringSubmatch(ref)
	if m == nil {
		return ""
	}
	return m[1]
}

// buildVersionPrefixes expands prefix into the ordered, deduplicated
// list of prefixes to try against upstream tags: the prefix itself,
// plus the special cases of collapsing a trailing lowercase "v" to bare
// "v", and treating a bare "v" as either "v" or "".
func buildVersionPrefixes(prefix string) []string {
	prefixes := []string{prefix}
	lowered := strings.ToLower(prefix)
	if strings.HasSuffix(lowered, "v") && lowered != "v" {
		prefixes = append(prefixes, "v")
	}
	if lowered == "v" {
		prefixes = append(prefixes, "")
	}

	seen := make(map[string]struct{}, len(prefixes))
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// tagMatchesPrefix reports whether tag is a plausible version tag for
// prefix: either it starts with a non-empty prefix, or (when prefix is
// empty) it starts with a digit.
func tagMatchesPrefix(tag, prefix string) bool {
	if prefix != "" {
		return strings.HasPrefix(tag, prefix)
	}
	return len(tag) > 0 && tag[0] >= '0' && tag[0] <= '9'
}

// selectTag returns the first of tags matching prefix, preserving the
// caller's ordering ("first matching tag wins" per forge.Client's
// reverse-chronological contract).
func selectTag(tags []string, prefix string) (string, bool) {
	for _, tag := range tags {
		if tagMatchesPrefix(tag, prefix) {
			return tag, true
		}
	}
	return "", false
}

// selectTagFromReleases filters out drafts and prereleases before
// delegating to selectTag.
func selectTagFromReleases(releases []forge.Release, prefix string) (string, bool) {
	names := make([]string, 0, len(releases))
	for _, r := range releases {
		if r.Draft || r.Prerelease {
			continue
		}
		names = append(names, r.TagName)
	}
	return selectTag(names, prefix)
}

// selectTagFromTags delegates to selectTag over tag names.
func selectTagFromTags(tags []forge.Tag, prefix string) (string, bool) {
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return selectTag(names, prefix)
}

// FlakeInputRef is a root flake input whose original ref is a candidate
// for ref-based (rather than hash-based) updating.
type FlakeInputRef struct {
	Name      string
	Owner     string
	Repo      string
	Ref       string
	InputType string // "github" or "gitlab"
}

// supportedInputTypes are the original-ref "type" values the ref-update
// path knows how to query and rewrite.
var supportedInputTypes = map[string]struct{}{"github": {}, "gitlab": {}}

// DiscoverFlakeInputRefs scans lock's root node for direct inputs whose
// resolved node carries an Original ref that looks like a version tag,
// returning them sorted by input name. Follow-through (path) inputs and
// inputs without a github/gitlab owner+repo are skipped.
func DiscoverFlakeInputRefs(lock flakelock.FlakeLock) []FlakeInputRef {
	root, ok := lock.RootNode()
	if !ok || root.Inputs == nil {
		return nil
	}

	names := make([]string, 0, len(root.Inputs))
	for name := range root.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	var result []FlakeInputRef
	for _, inputName := range names {
		ref := root.Inputs[inputName]
		if ref.IsPath() {
			continue
		}
		nodeName := ref.Name
		if nodeName == "" {
			nodeName = inputName
		}
		node, ok := lock.Nodes[nodeName]
		if !ok || node.Original == nil {
			continue
		}
		if node.Original.Ref == "" || !isVersionRef(node.Original.Ref) {
			continue
		}
		inputType := node.Original.Type
		if inputType == "" {
			inputType = "github"
		}
		if _, ok := supportedInputTypes[inputType]; !ok {
			continue
		}
		if node.Original.Owner == "" || node.Original.Repo == "" {
			continue
		}
		result = append(result, FlakeInputRef{
			Name:      inputName,
			Owner:     node.Original.Owner,
			Repo:      node.Original.Repo,
			Ref:       node.Original.Ref,
			InputType: inputType,
		})
	}
	return result
}

// fetchLatestVersionRef walks buildVersionPrefixes(prefix), trying
// releases then tags for each candidate prefix in turn, returning the
// first tag matched.
func fetchLatestVersionRef(ctx context.Context, client forge.Client, owner, repo, prefix string) (string, bool, error) {
	for _, candidate := range buildVersionPrefixes(prefix) {
		releases, err := client.Releases(ctx, owner, repo)
		if err != nil {
			return "", false, err
		}
		if tag, ok := selectTagFromReleases(releases, candidate); ok {
			return tag, true, nil
		}

		tags, err := client.Tags(ctx, owner, repo)
		if err != nil {
			return "", false, err
		}
		if tag, ok := selectTagFromTags(tags, candidate); ok {
			return tag, true, nil
		}
	}
	return "", false, nil
}

// CheckResult is the outcome of checking one flake input for a newer
// ref.
type CheckResult struct {
	Name       string
	CurrentRef string
	LatestRef  string // empty when no newer ref was found
}

// CheckFlakeRefUpdate queries the forge for the latest tag matching
// inputRef's version prefix. An unsupported input type is a caller
// programming error (DiscoverFlakeInputRefs never returns one), not a
// runtime condition, so it returns an error rather than a zero
// CheckResult.
func CheckFlakeRefUpdate(ctx context.Context, client forge.Client, inputRef FlakeInputRef) (CheckResult, error) {
	if _, ok := supportedInputTypes[inputRef.InputType]; !ok {
		return CheckResult{}, fmt.Errorf("refupdate: unsupported input type %q for %s", inputRef.InputType, inputRef.Name)
	}

	prefix := extractVersionPrefix(inputRef.Ref)
	latest, found, err := fetchLatestVersionRef(ctx, client, inputRef.Owner, inputRef.Repo, prefix)
	if err != nil {
		return CheckResult{}, err
	}
	if !found {
		return CheckResult{}, fmt.Errorf("refupdate: could not determine latest version for %s/%s", inputRef.Owner, inputRef.Repo)
	}

	return CheckResult{Name: inputRef.Name, CurrentRef: inputRef.Ref, LatestRef: latest}, nil
}

// flakeEditMutex serializes every flake-file mutation across the
// process: flake-edit change and nix flake lock --update-input both
// rewrite the same on-disk files, so at most one may run at a time
// regardless of which input it targets (spec §4.6).
var flakeEditMutex sync.Mutex

// newInputURL builds the flake-edit replacement URL for inputRef
// pointed at newRef.
func newInputURL(inputRef FlakeInputRef, newRef string) (string, error) {
	switch inputRef.InputType {
	case "github":
		return fmt.Sprintf("github:%s/%s/%s", inputRef.Owner, inputRef.Repo, newRef), nil
	case "gitlab":
		return fmt.Sprintf("gitlab:%s/%s/%s", inputRef.Owner, inputRef.Repo, newRef), nil
	default:
		return "", fmt.Errorf("refupdate: unsupported input type %q for %s", inputRef.InputType, inputRef.Name)
	}
}

// UpdateFlakeRef rewrites inputRef's flake input to newRef via the
// flake editor tool, then re-locks that input, streaming the lifecycle
// of both subprocess invocations as events. The two mutating commands
// run back to back under flakeEditMutex, which the producing goroutine
// holds until both commands have finished and releases just before the
// returned channel closes, so callers must range the channel to
// completion before assuming the mutation finished.
func UpdateFlakeRef(ctx context.Context, inputRef FlakeInputRef, newRef string) <-chan event.Event {
	out := make(chan event.Event)
	runID := uuid.New()
	source := inputRef.Name

	go func() {
		defer close(out)

		newURL, err := newInputURL(inputRef, newRef)
		if err != nil {
			out <- event.Error(runID, source, err)
			return
		}

		out <- event.Status(runID, source, fmt.Sprintf("Updating ref: %s -> %s", inputRef.Ref, newRef))

		flakeEditMutex.Lock()
		defer flakeEditMutex.Unlock()

		changeResult, ok, err := runMutatingCommand(ctx, out, runID, source,
			[]string{"flake-edit", "change", inputRef.Name, newURL})
		if err != nil {
			out <- event.Error(runID, source, err)
			return
		}
		if !ok {
			return
		}
		if changeResult.ReturnCode != 0 {
			out <- event.Error(runID, source, &engineerr.CommandError{
				Args:       changeResult.Args,
				ReturnCode: changeResult.ReturnCode,
				Stderr:     strings.TrimSpace(changeResult.Stderr),
			})
			return
		}

		lockResult, ok, err := runMutatingCommand(ctx, out, runID, source,
			[]string{"nix", "flake", "lock", "--update-input", inputRef.Name})
		if err != nil {
			out <- event.Error(runID, source, err)
			return
		}
		if !ok {
			return
		}
		if lockResult.ReturnCode != 0 {
			out <- event.Error(runID, source, &engineerr.CommandError{
				Args:       lockResult.Args,
				ReturnCode: lockResult.ReturnCode,
				Stderr:     strings.TrimSpace(lockResult.Stderr),
			})
			return
		}
	}()

	return out
}

// RefreshFlakeInputLock runs the build tool's lock-update command for a
// single flake input, without the preceding flake-edit rewrite — the
// "refresh-lock" operation-order step for source entries that declare a
// flake-input binding but whose original ref is not itself
// version-like (so DiscoverFlakeInputRefs never surfaces them). It
// shares flakeEditMutex with UpdateFlakeRef because both mutate
// flake.lock.
func RefreshFlakeInputLock(ctx context.Context, inputName string) <-chan event.Event {
	out := make(chan event.Event)
	runID := uuid.New()

	go func() {
		defer close(out)

		out <- event.Status(runID, inputName, fmt.Sprintf("Refreshing flake input %q...", inputName))

		flakeEditMutex.Lock()
		defer flakeEditMutex.Unlock()

		result, ok, err := runMutatingCommand(ctx, out, runID, inputName,
			[]string{"nix", "flake", "lock", "--update-input", inputName})
		if err != nil {
			out <- event.Error(runID, inputName, err)
			return
		}
		if !ok {
			return
		}
		if result.ReturnCode != 0 {
			out <- event.Error(runID, inputName, &engineerr.CommandError{
				Args:       result.Args,
				ReturnCode: result.ReturnCode,
				Stderr:     strings.TrimSpace(result.Stderr),
			})
		}
	}()

	return out
}

// runMutatingCommand forwards argv's event stream to out, returning the
// collected CommandResult once command-end arrives. ok is false when an
// error event was already forwarded and the caller should simply
// return.
func runMutatingCommand(ctx context.Context, out chan<- event.Event, runID uuid.UUID, source string, argv []string) (event.CommandResult, bool, error) {
	stream := procx.Run(ctx, argv, procx.Options{RunID: runID, Source: source})
	for ev := range stream {
		out <- ev
		if ev.Kind == event.KindError {
			return event.CommandResult{}, false, nil
		}
		if ev.Kind == event.KindCommandEnd {
			if result, ok := ev.Payload.(event.CommandResult); ok {
				return result, true, nil
			}
		}
	}
	return event.CommandResult{}, false, fmt.Errorf("refupdate: %s produced no command-end event", strings.Join(argv, " "))
}

// RefUpdatePayload is the KindResult payload for a successful or
// dry-run-detected ref update.
type RefUpdatePayload struct {
	Current string
	Latest  string
}

// RunRefUpdate checks inputRef for a newer tag and, unless dryRun is
// set, rewrites and re-locks the flake input to match. It mirrors
// internal/updater.UpdateStream's shape (status events throughout, a
// single terminal KindResult or KindError) so the two strategies
// compose identically under the orchestrator's merged event queue.
func RunRefUpdate(ctx context.Context, client forge.Client, inputRef FlakeInputRef, dryRun bool) <-chan event.Event {
	out := make(chan event.Event)
	runID := uuid.New()
	source := inputRef.Name

	go func() {
		defer close(out)

		out <- event.Status(runID, source, fmt.Sprintf("Checking %s/%s (current: %s)", inputRef.Owner, inputRef.Repo, inputRef.Ref))

		result, err := CheckFlakeRefUpdate(ctx, client, inputRef)
		if err != nil {
			out <- event.Error(runID, source, err)
			return
		}

		if result.LatestRef == result.CurrentRef {
			out <- event.Status(runID, source, fmt.Sprintf("Up to date (ref: %s)", result.CurrentRef))
			out <- event.Result(runID, source, nil)
			return
		}

		payload := RefUpdatePayload{Current: result.CurrentRef, Latest: result.LatestRef}

		if dryRun {
			out <- event.Status(runID, source, fmt.Sprintf("Update available: %s -> %s", result.CurrentRef, result.LatestRef))
			out <- event.Result(runID, source, payload)
			return
		}

		for ev := range UpdateFlakeRef(ctx, inputRef, result.LatestRef) {
			out <- ev
			if ev.Kind == event.KindError {
				return
			}
		}

		out <- event.Result(runID, source, payload)
	}()

	return out
}
