package fingerprint

import "testing"

func sampleFingerprint() EnvironmentFingerprint {
	return EnvironmentFingerprint{
		ImageDigest: "sha256:abc",
		ToolchainVersions: map[string]string{
			"go":   "1.24.0",
			"node": "20.11.0",
		},
		LockfileHashes: map[string]string{
			"go.sum": "sha256:lock1",
		},
		CommandSetHash:   "sha256:plan1",
		EnvAllowlistHash: "sha256:env1",
	}
}

func TestHash_StableAcrossMapOrder(t *testing.T) {
	a := sampleFingerprint()
	b := sampleFingerprint()
	b.ToolchainVersions = map[string]string{
		"node": "20.11.0",
		"go":   "1.24.0",
	}

	ha, err := a.Hash()
	if err != nil {
		t.Fatal(err)
	}
	hb, err := b.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Fatalf("hash must be independent of map construction order: %s != %s", ha, hb)
	}
}

func TestHash_ChangesWithContent(t *testing.T) {
	a := sampleFingerprint()
	b := sampleFingerprint()
	b.ImageDigest = "sha256:different"

	ha, _ := a.Hash()
	hb, _ := b.Hash()
	if ha == hb {
		t.Fatal("expected different hash for different image digest")
	}
}

func TestReproducible_MatchesBaseline(t *testing.T) {
	fp := sampleFingerprint()
	hash, _ := fp.Hash()
	baseline := Baseline{Fingerprint: fp, FingerprintHash: hash, CommandSetHash: fp.CommandSetHash}

	ok, err := Reproducible(fp, baseline, "none")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected reproducible=true for exact baseline match")
	}
}

func TestReproducible_FingerprintMismatch(t *testing.T) {
	fp := sampleFingerprint()
	hash, _ := fp.Hash()
	baseline := Baseline{FingerprintHash: hash, CommandSetHash: fp.CommandSetHash}

	drifted := fp
	drifted.ImageDigest = "sha256:other"

	ok, err := Reproducible(drifted, baseline, "none")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected reproducible=false on fingerprint mismatch")
	}
}

func TestReproducible_CommandSetMismatch(t *testing.T) {
	fp := sampleFingerprint()
	hash, _ := fp.Hash()
	baseline := Baseline{FingerprintHash: hash, CommandSetHash: "sha256:different-plan"}

	ok, err := Reproducible(fp, baseline, "none")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected reproducible=false on command-set hash mismatch")
	}
}

func TestReproducible_NoiseClassExcluded(t *testing.T) {
	fp := sampleFingerprint()
	hash, _ := fp.Hash()
	baseline := Baseline{FingerprintHash: hash, CommandSetHash: fp.CommandSetHash}

	ok, err := Reproducible(fp, baseline, "flake")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected reproducible=false for noise-class failure, even with matching fingerprint")
	}
}

func TestToolchainDrift_Levels(t *testing.T) {
	baseline := map[string]string{
		"go":     "1.24.0",
		"node":   "20.11.0",
		"python": "3.12.1",
		"ruby":   "custom-build",
	}
	current := map[string]string{
		"go":     "1.24.1", // patch
		"node":   "20.12.0", // minor
		"python": "4.0.0",  // major
		"ruby":   "custom-build",
	}

	drift := ToolchainDrift(current, baseline)
	if drift["go"] != DriftPatch {
		t.Errorf("expected patch drift for go, got %s", drift["go"])
	}
	if drift["node"] != DriftMinor {
		t.Errorf("expected minor drift for node, got %s", drift["node"])
	}
	if drift["python"] != DriftMajor {
		t.Errorf("expected major drift for python, got %s", drift["python"])
	}
	if drift["ruby"] != DriftNone {
		t.Errorf("expected no drift for identical unparseable versions, got %s", drift["ruby"])
	}
}

func TestToolchainDrift_MissingCurrent(t *testing.T) {
	baseline := map[string]string{"go": "1.24.0"}
	current := map[string]string{}

	drift := ToolchainDrift(current, baseline)
	if drift["go"] != DriftUnparseable {
		t.Errorf("expected unparseable drift for missing toolchain, got %s", drift["go"])
	}
}

func TestFlakeOracle_NoDisagreement(t *testing.T) {
	o := NewFlakeOracle()
	o.RecordAttempt(map[string]TestOutcome{"TestA": TestPassed, "TestB": TestFailed})
	o.RecordAttempt(map[string]TestOutcome{"TestA": TestPassed, "TestB": TestFailed})

	if o.RunIsFlaky() {
		t.Fatal("expected no flake when outcomes agree across attempts")
	}
	if o.Flaky("TestA") {
		t.Fatal("TestA should not be flagged flake")
	}
}

func TestFlakeOracle_Disagreement(t *testing.T) {
	o := NewFlakeOracle()
	o.RecordAttempt(map[string]TestOutcome{"TestA": TestFailed, "TestB": TestPassed})
	o.RecordAttempt(map[string]TestOutcome{"TestA": TestPassed, "TestB": TestPassed})

	if !o.Flaky("TestA") {
		t.Fatal("expected TestA to be flagged flake after disagreement")
	}
	if o.Flaky("TestB") {
		t.Fatal("TestB agreed across attempts, should not be flake")
	}
	if !o.RunIsFlaky() {
		t.Fatal("expected run to be flagged flake")
	}

	flaky := o.FlakyTests()
	if len(flaky) != 1 || flaky[0] != "TestA" {
		t.Fatalf("expected [TestA], got %v", flaky)
	}
}

func TestFlakeOracle_ThreeAttemptWindow(t *testing.T) {
	o := NewFlakeOracle()
	o.RecordAttempt(map[string]TestOutcome{"TestA": TestFailed})
	o.RecordAttempt(map[string]TestOutcome{"TestA": TestFailed})
	o.RecordAttempt(map[string]TestOutcome{"TestA": TestPassed})

	if o.AttemptCount() != 3 {
		t.Fatalf("expected 3 attempts recorded, got %d", o.AttemptCount())
	}
	if !o.Flaky("TestA") {
		t.Fatal("expected disagreement between attempt 2 and attempt 3 to mark flake")
	}
}
