package imagegen

import (
	"strings"
	"testing"

	"carstudio/internal/domain"
)

func TestBuildPromptMandatoryClauses(t *testing.T) {
	tests := []struct {
		mode   domain.ProcessingMode
		opts   domain.ProcessingOptions
		checks []string
	}{
		{
			mode: domain.ModeFull,
			checks: []string{
				"Isolate the car from its original background",
				"Place the isolated car onto the background from Image 2",
				"realistic shadow",
				"photorealistically",
				"about 3000 px on the long edge",
				"Do not add any text",
			},
		},
		{
			mode: domain.ModePartialWall,
			checks: []string{
				"1. Locate the boundary where the floor meets the wall",
				"2. Preserve the floor",
				"3. Preserve the car and its shadow",
				"4. Replace only the wall region",
				"5. Blend the seam",
				"6. Output a single photorealistic image",
			},
		},
		{
			mode: domain.ModeTurntableTint,
			opts: domain.ProcessingOptions{TurntableTint: domain.TintYellow},
			checks: []string{
				"1. Isolate the car together with the entire turntable",
				"2. Preserve the car and the turntable",
				"3. Replace everything else, including the floor and the walls",
				"4. Generate a shadow of the car on the turntable surface",
				"5. Apply a yellow tint at 15% opacity to the top surface of the turntable only",
				"6. Output a single photorealistic image",
			},
		},
		{
			mode: domain.ModeTintTurntableOnly,
			opts: domain.ProcessingOptions{TurntableTint: domain.TintRed},
			checks: []string{
				"1. Identify the turntable",
				"2. Apply a red tint at a fixed 15% opacity strictly to the top surface",
				"3. You must not change anything else in the image",
				"4. The final output must be pixel-identical",
			},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			got := BuildPrompt(tt.mode, tt.opts)
			for _, expect := range tt.checks {
				if !strings.Contains(got, expect) {
					t.Fatalf("prompt missing %q:\n%s", expect, got)
				}
			}
		})
	}
}

func TestBuildPromptIgnoresIrrelevantOptions(t *testing.T) {
	opts := domain.ProcessingOptions{
		FloorEffect:      domain.FloorEffectRed,
		MatchReflections: true,
		TurntableTint:    domain.TintYellow,
	}

	full := BuildPrompt(domain.ModeFull, opts)
	for _, forbidden := range []string{"tint", "reflections", "grayscale", "turntable"} {
		if strings.Contains(strings.ToLower(full), forbidden) {
			t.Fatalf("full prompt mentions %q:\n%s", forbidden, full)
		}
	}

	partial := BuildPrompt(domain.ModePartialWall, opts)
	if strings.Contains(partial, "turntable") {
		t.Fatalf("partial-wall prompt mentions turntable:\n%s", partial)
	}
	if strings.Contains(partial, "yellow") {
		t.Fatalf("partial-wall prompt leaked the turntable tint color:\n%s", partial)
	}

	turntable := BuildPrompt(domain.ModeTurntableTint, opts)
	for _, forbidden := range []string{"floor region", "reflections", "grayscale", "red"} {
		if strings.Contains(turntable, forbidden) {
			t.Fatalf("turntable-tint prompt mentions %q:\n%s", forbidden, turntable)
		}
	}
}

func TestBuildPromptPartialWallOptionalClauseNumbering(t *testing.T) {
	got := BuildPrompt(domain.ModePartialWall, domain.ProcessingOptions{
		FloorEffect:      domain.FloorEffectRed,
		MatchReflections: true,
	})
	lines := strings.Split(got, "\n")
	// intro + 5 base steps + 2 optional + closing
	if len(lines) != 9 {
		t.Fatalf("line count = %d, want 9:\n%s", len(lines), got)
	}
	if !strings.HasPrefix(lines[6], "6. Apply a red tint at 15% opacity to the preserved floor region") {
		t.Fatalf("line 6 = %q", lines[6])
	}
	if !strings.HasPrefix(lines[7], "7. Update the reflections") {
		t.Fatalf("line 7 = %q", lines[7])
	}
	if !strings.HasPrefix(lines[8], "8. Output a single photorealistic image") {
		t.Fatalf("line 8 = %q", lines[8])
	}
}

func TestBuildPromptPartialWallReflectionsOnly(t *testing.T) {
	got := BuildPrompt(domain.ModePartialWall, domain.ProcessingOptions{MatchReflections: true})
	if !strings.Contains(got, "6. Update the reflections") {
		t.Fatalf("reflections clause should be step 6 when no floor effect:\n%s", got)
	}
	if !strings.Contains(got, "7. Output a single photorealistic image") {
		t.Fatalf("closing clause should be step 7:\n%s", got)
	}
}

func TestBuildPromptPartialWallDesaturate(t *testing.T) {
	got := BuildPrompt(domain.ModePartialWall, domain.ProcessingOptions{FloorEffect: domain.FloorEffectDesaturate})
	if !strings.Contains(got, "6. Fully desaturate the preserved floor region to grayscale") {
		t.Fatalf("desaturate clause missing:\n%s", got)
	}
	if strings.Contains(got, "% opacity") {
		t.Fatalf("desaturate must not add a tint clause:\n%s", got)
	}
}

func TestBuildPromptTintOnlySingleImage(t *testing.T) {
	for _, tint := range []domain.TintColor{domain.TintRed, domain.TintYellow, domain.TintNone} {
		got := BuildPrompt(domain.ModeTintTurntableOnly, domain.ProcessingOptions{TurntableTint: tint})
		for _, forbidden := range []string{"Image 2", "two images", "second image", "background from"} {
			if strings.Contains(got, forbidden) {
				t.Fatalf("tint-only prompt (%s) mentions %q:\n%s", tint, forbidden, got)
			}
		}
		if !strings.Contains(got, "must not change anything else") {
			t.Fatalf("tint-only prompt (%s) lacks the no-change clause:\n%s", tint, got)
		}
	}
}

func TestBuildPromptDeterministic(t *testing.T) {
	opts := domain.ProcessingOptions{FloorEffect: domain.FloorEffectYellow}
	if BuildPrompt(domain.ModePartialWall, opts) != BuildPrompt(domain.ModePartialWall, opts) {
		t.Fatal("BuildPrompt is not deterministic")
	}
}

func TestBuildRefinementPrompt(t *testing.T) {
	got := BuildRefinementPrompt("  make the shadow softer ")
	if !strings.Contains(got, "Apply this correction: make the shadow softer") {
		t.Fatalf("refinement prompt missing instruction:\n%s", got)
	}
	if !strings.Contains(got, "Keep everything the correction does not mention") {
		t.Fatalf("refinement prompt missing preservation clause:\n%s", got)
	}
}
