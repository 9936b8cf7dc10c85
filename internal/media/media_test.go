package media

import "testing"

func TestRenditionPathDeterministic(t *testing.T) {
	paths := []string{
		"lessons/intro.mov",
		"lessons/x.mov",
		"a/b/c/deep.mp4",
		"flat.avi",
		"lessons/with space.mkv",
	}
	for _, p := range paths {
		first := RenditionPath(p)
		second := RenditionPath(p)
		if first != second {
			t.Fatalf("derivation not deterministic for %q: %q vs %q", p, first, second)
		}
	}
}

func TestRenditionPathUsesBasename(t *testing.T) {
	cases := map[string]string{
		"lessons/intro.mov":  "converted/intro.mov",
		"lessons/x.mov":      "converted/x.mov",
		"nested/dir/v.mp4":   "converted/v.mp4",
		"plain.avi":          "converted/plain.avi",
		"  lessons/pad.mov ": "converted/pad.mov",
	}
	for input, want := range cases {
		if got := RenditionPath(input); got != want {
			t.Errorf("RenditionPath(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewConversionJob(t *testing.T) {
	job, err := NewConversionJob("lesson-videos", "lessons/intro.mov")
	if err != nil {
		t.Fatalf("NewConversionJob: %v", err)
	}
	if job.Bucket != "lesson-videos" {
		t.Errorf("bucket = %q", job.Bucket)
	}
	if job.OriginalPath != "lessons/intro.mov" {
		t.Errorf("original path = %q", job.OriginalPath)
	}
	if job.RenditionPath != "converted/intro.mov" {
		t.Errorf("rendition path = %q", job.RenditionPath)
	}
}

func TestNewConversionJobRejectsBlank(t *testing.T) {
	if _, err := NewConversionJob("", "lessons/x.mov"); err == nil {
		t.Error("expected error for missing bucket")
	}
	if _, err := NewConversionJob("bucket", "  "); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestAssetValidate(t *testing.T) {
	if err := (Asset{Bucket: "b", OriginalPath: "p"}).Validate(); err != nil {
		t.Errorf("valid asset rejected: %v", err)
	}
	if err := (Asset{OriginalPath: "p"}).Validate(); err == nil {
		t.Error("missing bucket accepted")
	}
	if err := (Asset{Bucket: "b"}).Validate(); err == nil {
		t.Error("missing path accepted")
	}
}
