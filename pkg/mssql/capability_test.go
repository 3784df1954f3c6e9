package mssql

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

// --- parseProductVersion ---

func TestParseProductVersion(t *testing.T) {
	tests := []struct {
		in                  string
		major, minor, build int
	}{
		{"15.0.2000.5", 15, 0, 2000},
		{"13.0.5026.0", 13, 0, 5026},
		{"12.0", 12, 0, 0},
		{"16", 16, 0, 0},
		{"", 0, 0, 0},
		{"garbage", 0, 0, 0},
	}
	for _, tt := range tests {
		major, minor, build := parseProductVersion(tt.in)
		if major != tt.major || minor != tt.minor || build != tt.build {
			t.Errorf("parseProductVersion(%q) = (%d, %d, %d), want (%d, %d, %d)",
				tt.in, major, minor, build, tt.major, tt.minor, tt.build)
		}
	}
}

// --- isAzureVMVersion ---

func TestIsAzureVMVersion(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"Microsoft SQL Server 2019 on Windows Server 2019 (Azure Virtual Machine)", true},
		{"Microsoft SQL Azure (RTM) - 12.0.2000.8", false},
		{"Microsoft SQL Server 2019 - Azure SQL Database", false},
		{"Microsoft SQL Server 2019 (RTM) - 15.0.2000.5", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isAzureVMVersion(tt.version); got != tt.want {
			t.Errorf("isAzureVMVersion(%q) = %v, want %v", tt.version, got, tt.want)
		}
	}
}

// --- feature thresholds ---

func TestFeatureThresholds_VersionOrdering(t *testing.T) {
	// Flags introduced later must not require an older version than flags
	// introduced earlier in the same feature family.
	if featureThresholds[FeatureJSON] != 13 {
		t.Errorf("json threshold = %d, want 13 (2016)", featureThresholds[FeatureJSON])
	}
	if featureThresholds[FeatureGraphDatabase] != 14 {
		t.Errorf("graph threshold = %d, want 14 (2017)", featureThresholds[FeatureGraphDatabase])
	}
	if featureThresholds[FeatureResumableIndexOps] != 15 {
		t.Errorf("resumable threshold = %d, want 15 (2019)", featureThresholds[FeatureResumableIndexOps])
	}
	if featureThresholds[FeatureDatabaseSnapshots] != 9 {
		t.Errorf("snapshots threshold = %d, want 9 (2005)", featureThresholds[FeatureDatabaseSnapshots])
	}
}

func TestFeatureThresholds_CoverEveryVersionFlag(t *testing.T) {
	for f := range featureThresholds {
		if _, probed := probedFeatures[f]; probed {
			t.Errorf("feature %q is both version-derived and probed", f)
		}
	}
}

// --- deriveFeatures ---

func TestDeriveFeatures_ModernServer(t *testing.T) {
	features := deriveFeatures(13, OnPremises)

	for _, f := range []Feature{
		FeatureJSON, FeatureRowLevelSecurity, FeatureDynamicDataMasking,
		FeatureQueryStore, FeatureAlwaysEncrypted, FeatureTemporalTables,
	} {
		if !features[f] {
			t.Errorf("2016 server: %q = false, want true", f)
		}
	}
	if features[FeatureGraphDatabase] {
		t.Error("2016 server: graph_database = true, needs 2017")
	}
	if features[FeatureResumableIndexOps] {
		t.Error("2016 server: resumable_index_ops = true, needs 2019")
	}
}

func TestDeriveFeatures_LegacyServer(t *testing.T) {
	features := deriveFeatures(9, OnPremises)

	if !features[FeatureDatabaseSnapshots] {
		t.Error("2005 server: database_snapshots = false, want true")
	}
	for f, minMajor := range featureThresholds {
		if minMajor > 9 && features[f] {
			t.Errorf("2005 server: %q = true, needs major %d", f, minMajor)
		}
	}
}

func TestDeriveFeatures_AzureAlwaysCurrent(t *testing.T) {
	// Azure SQL Database reports versions loosely; every threshold flag must
	// hold regardless.
	features := deriveFeatures(0, AzureSQLDatabase)

	for f := range featureThresholds {
		if !features[f] {
			t.Errorf("Azure SQL Database: %q = false, want true", f)
		}
	}
}

// --- detection ---

func TestCapabilities_DetectsOnceAndCachesSnapshot(t *testing.T) {
	srv := &fakeServer{}
	s := &Service{
		db:             newFakePool(t, srv),
		defaultTimeout: defaultCommandTimeout,
		log:            zerolog.Nop(),
	}

	first, err := s.Capabilities(context.Background())
	if err != nil {
		t.Fatalf("Capabilities() error = %v", err)
	}
	second, err := s.Capabilities(context.Background())
	if err != nil {
		t.Fatalf("second Capabilities() error = %v", err)
	}

	if first != second {
		t.Error("Capabilities() recomputed the snapshot")
	}
	if n := srv.versionQueryCount(); n != 1 {
		t.Errorf("probe rounds = %d, want exactly 1", n)
	}

	if first.MajorVersion != 15 {
		t.Errorf("MajorVersion = %d, want 15", first.MajorVersion)
	}
	if first.Deployment != OnPremises {
		t.Errorf("Deployment = %v, want on-premises", first.Deployment)
	}
	if !first.Supports(FeatureJSON) || !first.Supports(FeatureExactRowCount) {
		t.Error("2019 snapshot missing json or exact_row_count")
	}
}

// --- Capability accessors ---

func TestCapability_SupportsUnknownFeature(t *testing.T) {
	c := &Capability{features: map[Feature]bool{FeatureJSON: true}}

	if !c.Supports(FeatureJSON) {
		t.Error("Supports(json) = false, want true")
	}
	if c.Supports(Feature("hologram_storage")) {
		t.Error("Supports(unknown) = true, want false")
	}
}

func TestCapability_FeaturesReturnsCopy(t *testing.T) {
	c := &Capability{features: map[Feature]bool{FeatureJSON: true}}

	out := c.Features()
	out[FeatureJSON] = false

	if !c.Supports(FeatureJSON) {
		t.Error("mutating the Features() copy changed the snapshot")
	}
}

func TestCapability_VersionDisplay(t *testing.T) {
	c := &Capability{MajorVersion: 15, MinorVersion: 0, BuildNumber: 2000, Edition: "Developer Edition"}

	got := c.VersionDisplay()
	want := "SQL Server 15.0.2000 (Developer Edition)"
	if got != want {
		t.Errorf("VersionDisplay() = %q, want %q", got, want)
	}
}

func TestDeployment_String(t *testing.T) {
	tests := []struct {
		d    Deployment
		want string
	}{
		{OnPremises, "On-Premises"},
		{AzureSQLDatabase, "Azure SQL Database"},
		{AzureVM, "Azure Virtual Machine"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("Deployment(%d).String() = %q, want %q", tt.d, got, tt.want)
		}
	}
}
