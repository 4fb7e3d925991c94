// Package relfilter narrows a pulled dict of stream → records down to a
// relationally-consistent subset by following parent/child relations
// breadth-first from a configured set of seed streams (spec §4.8).
package relfilter

import "fmt"

// FollowRule describes how to select a child stream's records given a
// parent stream's selection.
type FollowRule struct {
	ChildStream    string `json:"child_stream" yaml:"child_stream"`
	ForeignKey     string `json:"foreign_key" yaml:"foreign_key"`
	ParentKey      string `json:"parent_key,omitempty" yaml:"parent_key,omitempty"`
	LimitPerParent *int   `json:"limit_per_parent,omitempty" yaml:"limit_per_parent,omitempty"`
}

func (f FollowRule) parentKey() string {
	if f.ParentKey == "" {
		return "id"
	}
	return f.ParentKey
}

// SeedStream is one root entry point, with the follow rules attached to
// records selected from it.
type SeedStream struct {
	Stream string       `json:"stream" yaml:"stream"`
	Limit  *int         `json:"limit,omitempty" yaml:"limit,omitempty"`
	Follow []FollowRule `json:"follow,omitempty" yaml:"follow,omitempty"`
}

// Config is the seeding configuration (spec §6.3). It is accepted as
// either JSON or YAML: the snapshot-pull CLI decodes a config file with
// gopkg.in/yaml.v3, which also parses JSON (a YAML superset).
type Config struct {
	DefaultLimit *int         `json:"default_limit,omitempty" yaml:"default_limit,omitempty"`
	SeedStreams  []SeedStream `json:"seed_streams" yaml:"seed_streams"`
}

type edge struct {
	parent, child string
}

type queueItem struct {
	stream    string
	parentIDs map[string]bool // nil for root items
	rule      FollowRule
}

// Apply runs the breadth-first selection over streams (stream name →
// records) per cfg, returning only non-empty result streams.
func Apply(streams map[string][]map[string]any, cfg Config) map[string][]map[string]any {
	byStream := make(map[string]SeedStream, len(cfg.SeedStreams))
	for _, s := range cfg.SeedStreams {
		byStream[s.Stream] = s
	}

	outRecords := map[string][]map[string]any{}
	outSeenIDs := map[string]map[string]bool{}
	visitedEdges := map[edge]bool{}
	anonCounter := 0

	var queue []queueItem
	for _, s := range cfg.SeedStreams {
		queue = append(queue, queueItem{stream: s.Stream})
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		records := streams[item.stream]
		var selected []map[string]any

		if item.parentIDs != nil {
			selected = selectByParent(records, item.rule, item.parentIDs)
		} else {
			limit := streamLimit(byStream[item.stream], cfg.DefaultLimit)
			selected = takeLimit(records, limit)
		}

		addToOutput(outRecords, outSeenIDs, item.stream, selected, &anonCounter)

		seedCfg, ok := byStream[item.stream]
		if !ok {
			continue
		}
		for _, rule := range seedCfg.Follow {
			e := edge{parent: item.stream, child: rule.ChildStream}
			if visitedEdges[e] {
				continue
			}
			visitedEdges[e] = true

			keys := collectKeys(selected, rule.parentKey())
			queue = append(queue, queueItem{
				stream:    rule.ChildStream,
				parentIDs: keys,
				rule:      rule,
			})
		}
	}

	out := make(map[string][]map[string]any, len(outRecords))
	for stream, records := range outRecords {
		if len(records) > 0 {
			out[stream] = records
		}
	}
	return out
}

func streamLimit(s SeedStream, defaultLimit *int) *int {
	if s.Limit != nil {
		return s.Limit
	}
	return defaultLimit
}

func takeLimit(records []map[string]any, limit *int) []map[string]any {
	if limit == nil || *limit >= len(records) {
		return records
	}
	if *limit <= 0 {
		return nil
	}
	return records[:*limit]
}

func selectByParent(records []map[string]any, rule FollowRule, parentIDs map[string]bool) []map[string]any {
	var out []map[string]any
	perParentCount := map[string]int{}
	for _, rec := range records {
		val, ok := rec[rule.ForeignKey]
		if !ok {
			continue
		}
		key := fmt.Sprintf("%v", val)
		if !parentIDs[key] {
			continue
		}
		if rule.LimitPerParent != nil {
			if perParentCount[key] >= *rule.LimitPerParent {
				continue
			}
			perParentCount[key]++
		}
		out = append(out, rec)
	}
	return out
}

func collectKeys(records []map[string]any, parentKey string) map[string]bool {
	keys := map[string]bool{}
	for _, rec := range records {
		if val, ok := rec[parentKey]; ok {
			keys[fmt.Sprintf("%v", val)] = true
		}
	}
	return keys
}

func addToOutput(outRecords map[string][]map[string]any, outSeenIDs map[string]map[string]bool, stream string, selected []map[string]any, anonCounter *int) {
	seen, ok := outSeenIDs[stream]
	if !ok {
		seen = map[string]bool{}
		outSeenIDs[stream] = seen
	}
	for _, rec := range selected {
		key, hasID := recordKey(rec)
		if !hasID {
			*anonCounter++
			key = fmt.Sprintf("__identity:%d", *anonCounter)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		outRecords[stream] = append(outRecords[stream], rec)
	}
}

func recordKey(rec map[string]any) (string, bool) {
	v, ok := rec["id"]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%v", v), true
}
