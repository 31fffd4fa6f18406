package llm

import "testing"

func TestStripControlTokens(t *testing.T) {
	got := StripControlTokens(`<|im_start|>assistant{"a":1}<|im_end|>`)
	if got != `assistant{"a":1}` {
		t.Errorf("got %q", got)
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose before fence", "Here is the result:\n```json\n[1,2]\n```\nDone.", `[1,2]`},
		{"inline fence", "```{\"a\":1}```", `{"a":1}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripFences(tc.in); got != tc.want {
				t.Errorf("StripFences(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestExtractLargestObject(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"prose around object", `The answer is {"a":1} as requested.`, `{"a":1}`},
		{"picks largest", `{"a":1} then {"b":{"c":2},"d":3}`, `{"b":{"c":2},"d":3}`},
		{"array", `result: [1,2,3]`, `[1,2,3]`},
		{"brace inside string", `{"msg":"use } carefully"}`, `{"msg":"use } carefully"}`},
		{"escaped quote", `{"msg":"say \"}\" now"}`, `{"msg":"say \"}\" now"}`},
		{"truncated", `{"a":1,"b":`, ``},
		{"none", `no json here`, ``},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractLargestObject(tc.in); got != tc.want {
				t.Errorf("ExtractLargestObject(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestRepairParse(t *testing.T) {
	type finding struct {
		Summary string `json:"summary"`
	}

	t.Run("fenced with control tokens", func(t *testing.T) {
		raw := "<|start|>```json\n{\"summary\":\"broken link\"}\n```<|end|>"
		var f finding
		if err := RepairParse(raw, &f); err != nil {
			t.Fatalf("RepairParse: %v", err)
		}
		if f.Summary != "broken link" {
			t.Errorf("summary = %q", f.Summary)
		}
	})

	t.Run("prose wrapped", func(t *testing.T) {
		raw := `Sure! Here is the finding: {"summary":"typo"} Hope that helps.`
		var f finding
		if err := RepairParse(raw, &f); err != nil {
			t.Fatalf("RepairParse: %v", err)
		}
		if f.Summary != "typo" {
			t.Errorf("summary = %q", f.Summary)
		}
	})

	t.Run("unparseable", func(t *testing.T) {
		var f finding
		if err := RepairParse("the model refused to answer", &f); err == nil {
			t.Fatal("RepairParse succeeded on prose")
		}
	})

	t.Run("empty", func(t *testing.T) {
		var f finding
		if err := RepairParse("  ", &f); err == nil {
			t.Fatal("RepairParse succeeded on empty input")
		}
	})
}
