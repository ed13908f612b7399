package domain

import (
	"testing"
	"time"
)

func TestPolicyValid(t *testing.T) {
	valid := []Policy{PolicyDefault, PolicyDepthFirst, PolicyBreadthFirst, PolicyLocked, PolicyUserPref}
	for _, p := range valid {
		if !p.Valid() {
			t.Errorf("%s should be valid", p)
		}
	}
	for _, p := range []Policy{"", "round_robin", "DEFAULT"} {
		if p.Valid() {
			t.Errorf("%q should be invalid", p)
		}
	}
}

func TestPolicyRequiresLock(t *testing.T) {
	cases := []struct {
		policy Policy
		want   bool
	}{
		{PolicyDefault, false},
		{PolicyDepthFirst, false},
		{PolicyBreadthFirst, false},
		{PolicyLocked, true},
		{PolicyUserPref, true},
	}
	for _, c := range cases {
		if got := c.policy.RequiresLock(); got != c.want {
			t.Errorf("%s RequiresLock() = %v, want %v", c.policy, got, c.want)
		}
	}
}

func TestProjectTimeout(t *testing.T) {
	p := Project{}
	if p.Timeout() != DefaultTimeout {
		t.Errorf("unset timeout = %v, want %v", p.Timeout(), DefaultTimeout)
	}
	p.TimeoutSeconds = 90
	if p.Timeout() != 90*time.Second {
		t.Errorf("timeout = %v, want 90s", p.Timeout())
	}
}

func TestProjectSchedulerPolicyFallback(t *testing.T) {
	p := Project{Scheduler: "mystery"}
	if p.SchedulerPolicy() != PolicyDefault {
		t.Errorf("unknown policy resolved to %s, want default", p.SchedulerPolicy())
	}
	p.Scheduler = PolicyBreadthFirst
	if p.SchedulerPolicy() != PolicyBreadthFirst {
		t.Errorf("policy = %s, want breadth_first", p.SchedulerPolicy())
	}
}

func TestTaskHasUploadArtifact(t *testing.T) {
	task := Task{Info: map[string]any{"photo__upload_url": "https://b/x.jpg"}}
	if !task.HasUploadArtifact() {
		t.Error("upload_url key not detected")
	}
	task = Task{Info: map[string]any{"url": "https://b/x.jpg"}}
	if task.HasUploadArtifact() {
		t.Error("plain url key misdetected as upload artifact")
	}
	task = Task{}
	if task.HasUploadArtifact() {
		t.Error("empty task reported an upload artifact")
	}
}

func TestTaskPreferenceTags(t *testing.T) {
	// Decoded-JSON payloads carry []any
	task := Task{Info: map[string]any{"preferences": []any{"english", "medical"}}}
	tags := task.PreferenceTags()
	if len(tags) != 2 || tags[0] != "english" || tags[1] != "medical" {
		t.Errorf("tags = %v, want [english medical]", tags)
	}

	task = Task{Info: map[string]any{"preferences": []string{"spanish"}}}
	if tags := task.PreferenceTags(); len(tags) != 1 || tags[0] != "spanish" {
		t.Errorf("tags = %v, want [spanish]", tags)
	}

	task = Task{}
	if tags := task.PreferenceTags(); tags != nil {
		t.Errorf("tags = %v, want nil for an untagged task", tags)
	}
}

func TestQuizStatusTerminal(t *testing.T) {
	if QuizNotStarted.Terminal() || QuizInProgress.Terminal() {
		t.Error("non-terminal status reported terminal")
	}
	if !QuizPassed.Terminal() || !QuizFailed.Terminal() {
		t.Error("terminal status not reported terminal")
	}
}

func TestQuizAnswered(t *testing.T) {
	q := Quiz{Result: QuizResult{Right: 3, Wrong: 2}}
	if q.Answered() != 5 {
		t.Errorf("answered = %d, want 5", q.Answered())
	}
}

func TestActorKey(t *testing.T) {
	if got := (Actor{UserID: 7}).Key(); got != "user:7" {
		t.Errorf("key = %q, want user:7", got)
	}
	if got := (Actor{IP: "10.0.0.1"}).Key(); got != "ip:10.0.0.1" {
		t.Errorf("key = %q, want ip:10.0.0.1", got)
	}
	if got := (Actor{ExternalUID: "abc"}).Key(); got != "external:abc" {
		t.Errorf("key = %q, want external:abc", got)
	}
}

func TestActorAnonymous(t *testing.T) {
	if (Actor{UserID: 7}).Anonymous() {
		t.Error("user actor reported anonymous")
	}
	if !(Actor{IP: "10.0.0.1"}).Anonymous() {
		t.Error("ip actor not reported anonymous")
	}
	if (Actor{ExternalUID: "abc"}).Anonymous() {
		t.Error("external-uid actor reported anonymous")
	}
}
