package relfilter

import "testing"

func TestApplyS5ScenarioLimitsReposAndIssues(t *testing.T) {
	streams := map[string][]map[string]any{
		"repos": {
			{"id": float64(1), "name": "alpha"},
			{"id": float64(2), "name": "beta"},
			{"id": float64(3), "name": "gamma"},
		},
		"issues": {
			{"id": float64(10), "repo_id": float64(1), "title": "a1"},
			{"id": float64(11), "repo_id": float64(1), "title": "a2"},
			{"id": float64(20), "repo_id": float64(2), "title": "b1"},
			{"id": float64(30), "repo_id": float64(3), "title": "c1"},
		},
	}
	defaultLimit := 2
	limitPerParent := 1
	cfg := Config{
		DefaultLimit: &defaultLimit,
		SeedStreams: []SeedStream{
			{
				Stream: "repos",
				Follow: []FollowRule{
					{ChildStream: "issues", ForeignKey: "repo_id", LimitPerParent: &limitPerParent},
				},
			},
		},
	}

	out := Apply(streams, cfg)
	if len(out["repos"]) != 2 {
		t.Fatalf("expected 2 repos, got %d", len(out["repos"]))
	}
	if len(out["issues"]) != 2 {
		t.Fatalf("expected 2 issues (one per selected repo), got %d", len(out["issues"]))
	}
}

func TestApplyFollowsEveryEdgeFromOneParent(t *testing.T) {
	streams := map[string][]map[string]any{
		"orgs":  {{"id": float64(1)}},
		"repos": {{"id": float64(100), "org_id": float64(1)}},
		"members": {
			{"id": float64(1000), "org_id": float64(1)},
		},
	}
	cfg := Config{
		SeedStreams: []SeedStream{
			{Stream: "orgs", Follow: []FollowRule{
				{ChildStream: "repos", ForeignKey: "org_id"},
				{ChildStream: "members", ForeignKey: "org_id"},
			}},
		},
	}
	out := Apply(streams, cfg)
	if len(out["repos"]) != 1 || len(out["members"]) != 1 {
		t.Fatalf("expected one record per followed child stream, got %+v", out)
	}
}

func TestApplyOmitsEmptyStreamsFromOutput(t *testing.T) {
	streams := map[string][]map[string]any{
		"repos":  {{"id": float64(1)}},
		"issues": {{"id": float64(1), "repo_id": float64(999)}},
	}
	cfg := Config{
		SeedStreams: []SeedStream{
			{Stream: "repos", Follow: []FollowRule{
				{ChildStream: "issues", ForeignKey: "repo_id"},
			}},
		},
	}
	out := Apply(streams, cfg)
	if _, ok := out["issues"]; ok {
		t.Fatalf("expected issues stream to be omitted when nothing matched, got %+v", out["issues"])
	}
}

func TestApplyFallsBackToIdentityForRecordsWithoutID(t *testing.T) {
	streams := map[string][]map[string]any{
		"events": {
			{"kind": "a"},
			{"kind": "a"},
		},
	}
	cfg := Config{
		SeedStreams: []SeedStream{{Stream: "events"}},
	}
	out := Apply(streams, cfg)
	if len(out["events"]) != 2 {
		t.Fatalf("expected both id-less records to survive as distinct, got %d", len(out["events"]))
	}
}
