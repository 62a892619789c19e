package s3

import (
	"strings"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
)

// Storage tiers accepted in Config.StorageTier
const (
	TierStandard          = "STANDARD"
	TierStandardIA        = "STANDARD_IA"
	TierOneZoneIA         = "ONEZONE_IA"
	TierReducedRedundancy = "REDUCED_REDUNDANCY"
	TierGlacierIR         = "GLACIER_IR"
	TierIntelligent       = "INTELLIGENT_TIERING"
)

// ValidTier reports whether tier names a storage class that serves reads
// without a restore step
func ValidTier(tier string) bool {
	switch strings.ToUpper(tier) {
	case TierStandard, TierStandardIA, TierOneZoneIA, TierReducedRedundancy, TierGlacierIR, TierIntelligent:
		return true
	}
	return false
}

func storageClass(tier string) s3types.StorageClass {
	switch strings.ToUpper(tier) {
	case TierStandardIA:
		return s3types.StorageClassStandardIa
	case TierOneZoneIA:
		return s3types.StorageClassOnezoneIa
	case TierReducedRedundancy:
		return s3types.StorageClassReducedRedundancy
	case TierGlacierIR:
		return s3types.StorageClassGlacierIr
	case TierIntelligent:
		return s3types.StorageClassIntelligentTiering
	default:
		return s3types.StorageClassStandard
	}
}

// cargoStorageClass maps a tier onto the classes the transporter knows.
// ok is false for tiers it cannot upload to.
func cargoStorageClass(tier string) (class awsconfig.StorageClass, ok bool) {
	switch strings.ToUpper(tier) {
	case TierStandard, "":
		return awsconfig.StorageClassStandard, true
	case TierStandardIA:
		return awsconfig.StorageClassStandardIA, true
	case TierOneZoneIA:
		return awsconfig.StorageClassOneZoneIA, true
	case TierIntelligent:
		return awsconfig.StorageClassIntelligentTiering, true
	default:
		return awsconfig.StorageClassStandard, false
	}
}
