package metadata

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"clonecore/pkg/domain"
)

var (
	alleleSuffix  = regexp.MustCompile(`[*][0-9][0-9]`)
	digits        = regexp.MustCompile(`[0-9]`)
	bothChainMult = regexp.MustCompile(`Multi_heavy(.*)Multi_light`)
)

// isotypes maps lower-cased constant-region gene names onto isotype classes.
var isotypes = map[string]string{
	"igha1": "IgA", "igha2": "IgA", "igha": "IgA",
	"ighm":  "IgM",
	"ighd":  "IgD",
	"ighe":  "IgE",
	"ighg1": "IgG", "ighg2": "IgG", "ighg3": "IgG", "ighg4": "IgG", "ighg": "IgG",
	"igkc":  "IgK",
	"iglc1": "IgL", "iglc2": "IgL", "iglc3": "IgL", "iglc4": "IgL", "iglc5": "IgL", "iglc6": "IgL", "iglc7": "IgL", "iglc": "IgL",
}

// Status combines the heavy and light values of a cell. Both present gives
// "heavy + light"; a lone chain gives its value plus the "_only" suffix;
// neither gives "unassigned".
func Status(heavy, light string) string {
	switch {
	case heavy != "" && light != "":
		return heavy + domain.ChainSeparator + light
	case heavy != "":
		return heavy + domain.SingleChainSuffix
	case light != "":
		return light + domain.SingleChainSuffix
	default:
		return domain.Unassigned
	}
}

// Productive is Status without the "_only" suffix.
func Productive(heavy, light string) string {
	switch {
	case heavy != "" && light != "":
		return heavy + domain.ChainSeparator + light
	case heavy != "":
		return heavy
	case light != "":
		return light
	default:
		return domain.Unassigned
	}
}

// Summary is "Multi" for multi-valued strings and the value itself otherwise.
func Summary(s string) string {
	if strings.Contains(s, domain.ValueSeparator) {
		return domain.Multi
	}
	return s
}

// Isotype maps heavy-chain constant calls onto isotype classes. The second
// return value is false when a non-empty call could not be mapped.
func Isotype(call string) (string, bool) {
	call = strings.ReplaceAll(call, ",", domain.ValueSeparator)
	if call == "" {
		return domain.Unassigned, true
	}
	tokens := strings.Split(call, domain.ValueSeparator)
	if len(tokens) == 1 {
		key := strings.ToLower(strings.TrimSpace(tokens[0]))
		if iso, ok := isotypes[key]; ok {
			return iso, true
		}
		if iso, ok := isotypes[digits.ReplaceAllString(key, "")]; ok {
			return iso, true
		}
		return domain.Unassigned, false
	}
	known := true
	var out []string
	seen := make(map[string]struct{})
	for _, tok := range tokens {
		key := digits.ReplaceAllString(strings.ToLower(strings.TrimSpace(tok)), "")
		iso, ok := isotypes[key]
		if !ok {
			known = known && key == ""
			iso = domain.Unassigned
		}
		if _, dup := seen[iso]; dup {
			continue
		}
		seen[iso] = struct{}{}
		out = append(out, iso)
	}
	return strings.Join(out, domain.ValueSeparator), known
}

// CollapseAlleles strips "*NN" allele suffixes from every comma- or
// pipe-separated gene call and removes duplicates, keeping first-seen order.
// Applying it twice yields the same string.
func CollapseAlleles(s string) string {
	if s == "" {
		return s
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' })
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		g := alleleSuffix.ReplaceAllString(f, "")
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return strings.Join(out, domain.ValueSeparator)
}

// ChainFlags reports V/J multiplicity for one chain: Multi_<chain>_v and/or
// Multi_<chain>_j when a call holds more than one value, else "Single". A
// chain with neither call yields "".
func ChainFlags(chain, v, j string) string {
	if v == "" && j == "" {
		return ""
	}
	var flags []string
	if countValues(v) > 1 {
		flags = append(flags, "Multi_"+chain+"_v")
	}
	if countValues(j) > 1 {
		flags = append(flags, "Multi_"+chain+"_j")
	}
	if len(flags) == 0 {
		return domain.Single
	}
	return strings.Join(flags, domain.ValueSeparator)
}

func countValues(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.Split(s, domain.ValueSeparator))
}

// VDJStatusDetail joins the per-chain flags with " + ".
func VDJStatusDetail(heavyFlags, lightFlags string) string {
	var parts []string
	for _, f := range []string{heavyFlags, lightFlags} {
		if f != "" {
			parts = append(parts, f)
		}
	}
	if len(parts) == 0 {
		return domain.Unassigned
	}
	return strings.Join(parts, domain.ChainSeparator)
}

// VDJStatus collapses a detail string to Multi or Single. An unassigned
// detail carries no multiplicity and is Single.
func VDJStatus(detail string) string {
	switch {
	case bothChainMult.MatchString(detail):
		return domain.Multi
	case strings.Contains(detail, domain.ValueSeparator):
		return domain.Multi
	default:
		return domain.Single
	}
}

// RankClones counts cells per clone id and ranks ids by descending size.
// A cell listing several ids counts once for each distinct id. Ties keep the
// order in which ids were first seen.
func RankClones(assignments []string) []CloneSize {
	counts := make(map[string]int)
	var order []string
	for _, a := range assignments {
		seen := make(map[string]struct{})
		for _, id := range splitClone(a) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if _, known := counts[id]; !known {
				order = append(order, id)
			}
			counts[id]++
		}
	}
	out := make([]CloneSize, len(order))
	for i, id := range order {
		out[i] = CloneSize{ID: id, Size: counts[id]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Size > out[j].Size })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// CloneColumns renders, for one cell's clone assignment, the pipe-joined
// ranks and sizes aligned with the ids. Empty assignments yield "", "".
func CloneColumns(assignment string, byID map[string]CloneSize) (string, string) {
	ids := splitClone(assignment)
	if len(ids) == 0 {
		return "", ""
	}
	ranks := make([]string, len(ids))
	sizes := make([]string, len(ids))
	for i, id := range ids {
		cs := byID[id]
		ranks[i] = strconv.Itoa(cs.Rank)
		sizes[i] = strconv.Itoa(cs.Size)
	}
	return strings.Join(ranks, domain.ValueSeparator), strings.Join(sizes, domain.ValueSeparator)
}

func splitClone(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, id := range strings.Split(s, domain.ValueSeparator) {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
