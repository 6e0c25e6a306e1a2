package game

import (
	"errors"
	"math"
	"regexp"
	"strings"

	"tycoon/internal/market"
	"tycoon/internal/num"
)

// SnapshotVersion is bumped whenever the persisted layout changes shape.
const SnapshotVersion = 1

// PrestigePointValue is the all_income bonus each prestige point grants.
var PrestigePointValue = num.MustParse("0.0003")

var (
	ErrInvalidAssetID         = errors.New("asset id must be 2-10 uppercase letters or digits")
	ErrInvalidSide            = errors.New("side must be buy or sell")
	ErrContributionNotFound   = errors.New("contribution not found")
	ErrUnsupportedSnapshot    = errors.New("unsupported snapshot version")
	ErrNoStore                = errors.New("no save store configured")
	ErrInvalidPrestigePoints  = errors.New("prestige points must be >= 0")
	ErrReservedSubscriberName = errors.New("subscriber name is reserved")
	ErrInvalidOfflineDuration = errors.New("offline duration must be >= 0")
	ErrReservedContribution   = errors.New("contribution id is reserved")
)

var assetIDRE = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

func ValidateAssetID(id string) error {
	if !assetIDRE.MatchString(strings.TrimSpace(id)) {
		return ErrInvalidAssetID
	}
	return nil
}

func NormalizeAssetID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func ParseSide(s string) (market.Side, error) {
	switch market.Side(strings.ToLower(strings.TrimSpace(s))) {
	case market.SideBuy:
		return market.SideBuy, nil
	case market.SideSell:
		return market.SideSell, nil
	}
	return "", ErrInvalidSide
}

// OfflineTicks scales elapsed ticks by the offline efficiency and caps the
// result. A non-positive cap means no cap.
func OfflineTicks(elapsed int64, efficiency num.Decimal, limit int64) int64 {
	if elapsed <= 0 || !efficiency.IsPositive() {
		return 0
	}
	scaled := num.FromInt(elapsed).Mul(efficiency)
	if limit > 0 && scaled.Gt(num.FromInt(limit)) {
		return limit
	}
	if scaled.Gt(num.FromInt(math.MaxInt64)) {
		return math.MaxInt64
	}
	return scaled.IntPart()
}
