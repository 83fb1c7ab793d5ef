package debug

import (
	"bytes"
	"testing"
)

func TestEnabled(t *testing.T) {
	tests := []struct {
		name    string
		env     bool
		verbose bool
		want    bool
	}{
		{"env set", true, false, true},
		{"verbose flag", false, true, true},
		{"neither", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldEnabled, oldVerbose := enabled, verboseMode
			defer func() { enabled, verboseMode = oldEnabled, oldVerbose }()

			enabled = tt.env
			SetVerbose(tt.verbose)

			if got := Enabled(); got != tt.want {
				t.Errorf("Enabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogf(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		wantOutput string
	}{
		{"outputs when enabled", true, "validating gv-1\n"},
		{"no output when disabled", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldEnabled := enabled
			var out, errOut bytes.Buffer
			SetOutput(&out, &errOut)
			defer func() {
				enabled = oldEnabled
				SetOutput(nil, nil)
			}()

			enabled = tt.enabled
			Logf("validating %s\n", "gv-1")

			if got := errOut.String(); got != tt.wantOutput {
				t.Errorf("Logf() wrote %q, want %q", got, tt.wantOutput)
			}
			if out.Len() != 0 {
				t.Errorf("Logf() wrote to stdout: %q", out.String())
			}
		})
	}
}

func TestPrintNormalRespectsQuiet(t *testing.T) {
	var out bytes.Buffer
	SetOutput(&out, &bytes.Buffer{})
	defer func() {
		SetQuiet(false)
		SetOutput(nil, nil)
	}()

	PrintNormal("shown %d\n", 1)
	SetQuiet(true)
	if !IsQuiet() {
		t.Fatal("IsQuiet() = false after SetQuiet(true)")
	}
	PrintNormal("hidden\n")

	if got := out.String(); got != "shown 1\n" {
		t.Errorf("output = %q, want %q", got, "shown 1\n")
	}
}

func TestWarnf(t *testing.T) {
	var errOut bytes.Buffer
	SetOutput(&bytes.Buffer{}, &errOut)
	defer SetOutput(nil, nil)

	SetQuiet(true)
	defer SetQuiet(false)
	Warnf("policy %s ignored\n", "x.yaml")

	if got := errOut.String(); got != "Warning: policy x.yaml ignored\n" {
		t.Errorf("Warnf wrote %q", got)
	}
}
