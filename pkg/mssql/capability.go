package mssql

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// Deployment classifies where the server runs. The three classes are
// mutually exclusive.
type Deployment int

const (
	OnPremises Deployment = iota
	AzureSQLDatabase
	AzureVM
)

func (d Deployment) String() string {
	switch d {
	case AzureSQLDatabase:
		return "Azure SQL Database"
	case AzureVM:
		return "Azure Virtual Machine"
	default:
		return "On-Premises"
	}
}

// Feature identifies one capability flag.
type Feature string

const (
	FeaturePartitioning          Feature = "partitioning"
	FeatureColumnstore           Feature = "columnstore"
	FeatureJSON                  Feature = "json"
	FeatureInMemoryOLTP          Feature = "in_memory_oltp"
	FeatureRowLevelSecurity      Feature = "row_level_security"
	FeatureDynamicDataMasking    Feature = "dynamic_data_masking"
	FeatureDataCompression       Feature = "data_compression"
	FeatureDatabaseSnapshots     Feature = "database_snapshots"
	FeatureQueryStore            Feature = "query_store"
	FeatureResumableIndexOps     Feature = "resumable_index_ops"
	FeatureGraphDatabase         Feature = "graph_database"
	FeatureAlwaysEncrypted       Feature = "always_encrypted"
	FeatureTemporalTables        Feature = "temporal_tables"
	FeatureExactRowCount         Feature = "exact_row_count"
	FeatureDetailedIndexMetadata Feature = "detailed_index_metadata"
)

// featureThresholds maps each version-derived flag to the minimum major
// version that supports it. Consulted by both the detector and the query
// builder so version policy lives in one place.
//
// Major version mapping: 9=2005, 10=2008, 11=2012, 12=2014, 13=2016,
// 14=2017, 15=2019, 16=2022.
var featureThresholds = map[Feature]int{
	FeatureDatabaseSnapshots:  9,
	FeatureDataCompression:    10,
	FeaturePartitioning:       11,
	FeatureColumnstore:        11,
	FeatureInMemoryOLTP:       12,
	FeatureJSON:               13,
	FeatureRowLevelSecurity:   13,
	FeatureDynamicDataMasking: 13,
	FeatureQueryStore:         13,
	FeatureAlwaysEncrypted:    13,
	FeatureTemporalTables:     13,
	FeatureGraphDatabase:      14,
	FeatureResumableIndexOps:  15,
}

// probedFeatures cannot be inferred from version alone on all editions and
// are determined by running a representative query; any error means
// unsupported.
var probedFeatures = map[Feature]string{
	FeatureExactRowCount:         "SELECT TOP (1) row_count FROM sys.dm_db_partition_stats",
	FeatureDetailedIndexMetadata: "SELECT TOP (1) database_id FROM sys.dm_db_index_usage_stats",
}

// Capability is an immutable snapshot of what the connected server supports.
// Built once per Service instance and never mutated afterwards.
type Capability struct {
	Version      string
	MajorVersion int
	MinorVersion int
	BuildNumber  int
	Edition      string
	Deployment   Deployment

	features map[Feature]bool
}

// Supports reports whether the server supports the given feature. Unknown
// features are unsupported.
func (c *Capability) Supports(f Feature) bool {
	return c.features[f]
}

// Features returns a copy of all feature flags.
func (c *Capability) Features() map[Feature]bool {
	out := make(map[Feature]bool, len(c.features))
	for f, ok := range c.features {
		out[f] = ok
	}
	return out
}

// VersionDisplay formats the numeric version and edition for humans.
func (c *Capability) VersionDisplay() string {
	return "SQL Server " + strconv.Itoa(c.MajorVersion) + "." +
		strconv.Itoa(c.MinorVersion) + "." + strconv.Itoa(c.BuildNumber) +
		" (" + c.Edition + ")"
}

// detectCapabilities probes the server over db and assembles a snapshot.
// Probe failures degrade flags or version fields, they never fail the call:
// capability detection must not block normal operation.
func (s *Service) detectCapabilities(ctx context.Context, db *sql.DB) *Capability {
	snap := &Capability{Deployment: OnPremises}

	var version, productVersion, edition sql.NullString
	var engineEdition sql.NullInt64
	err := db.QueryRowContext(ctx, `
		SELECT
			@@VERSION,
			CAST(SERVERPROPERTY('ProductVersion') AS NVARCHAR(128)),
			CAST(SERVERPROPERTY('Edition') AS NVARCHAR(128)),
			CAST(SERVERPROPERTY('EngineEdition') AS INT)`).
		Scan(&version, &productVersion, &edition, &engineEdition)
	if err != nil {
		s.log.Debug().Err(err).Msg("capability probe failed, using zero-version snapshot")
	} else {
		snap.Version = version.String
		snap.Edition = edition.String
		snap.MajorVersion, snap.MinorVersion, snap.BuildNumber = parseProductVersion(productVersion.String)

		// EngineEdition 5 is Azure SQL Database. Azure VM installs report a
		// regular engine edition, so they are told apart by the version text.
		switch {
		case engineEdition.Int64 == 5:
			snap.Deployment = AzureSQLDatabase
		case isAzureVMVersion(snap.Version):
			snap.Deployment = AzureVM
		}
	}

	snap.features = deriveFeatures(snap.MajorVersion, snap.Deployment)

	for f, probe := range probedFeatures {
		var ignored sql.NullInt64
		err := db.QueryRowContext(ctx, probe).Scan(&ignored)
		if err != nil && err != sql.ErrNoRows {
			s.log.Debug().Err(err).Str("feature", string(f)).Msg("feature probe failed, marking unsupported")
			snap.features[f] = false
			continue
		}
		snap.features[f] = true
	}

	return snap
}

// deriveFeatures computes the version-derived flags for one major version.
// Azure SQL Database always runs the latest engine, so every threshold flag
// holds there regardless of the reported version.
func deriveFeatures(major int, deployment Deployment) map[Feature]bool {
	features := make(map[Feature]bool, len(featureThresholds)+len(probedFeatures))
	for f, minMajor := range featureThresholds {
		features[f] = major >= minMajor || deployment == AzureSQLDatabase
	}
	return features
}

// parseProductVersion splits "15.0.2000.5" into (15, 0, 2000). Malformed
// input yields zeros rather than an error.
func parseProductVersion(v string) (major, minor, build int) {
	parts := strings.Split(v, ".")
	if len(parts) > 0 {
		major, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	if len(parts) > 2 {
		build, _ = strconv.Atoi(parts[2])
	}
	return major, minor, build
}

// isAzureVMVersion is the heuristic for SQL Server running on an Azure VM:
// the @@VERSION banner mentions Azure without being the PaaS offering.
func isAzureVMVersion(version string) bool {
	v := strings.ToLower(version)
	return strings.Contains(v, "azure") && !strings.Contains(v, "sql azure") && !strings.Contains(v, "sql database")
}
