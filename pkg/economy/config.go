package economy

import (
	"fmt"

	"github.com/spf13/viper"
)

// EffectExtendPolicy controls what a repeat grant of an active effect does.
type EffectExtendPolicy string

const (
	// EffectExtend sets the new expiry to max(existing expiry, now + duration):
	// a re-grant refreshes the full duration without adding remaining time,
	// and never shortens a grant that already runs longer.
	EffectExtend EffectExtendPolicy = "extend"
	// EffectReplace sets the new expiry to now + duration, discarding any
	// remaining time on the previous grant.
	EffectReplace EffectExtendPolicy = "replace"
)

// TierDefinition is the product configuration for one membership tier.
type TierDefinition struct {
	Rank         int              `mapstructure:"rank"`
	PriceCoins   int64            `mapstructure:"price_coins"`
	DurationDays int              `mapstructure:"duration_days"`
	DailyQuotas  map[string]int64 `mapstructure:"daily_quotas"`
}

// EffectDefinition is the product configuration for one consumable effect.
type EffectDefinition struct {
	PriceCoins      int64              `mapstructure:"price_coins"`
	DurationDays    int                `mapstructure:"duration_days"`
	Value           int64              `mapstructure:"value"`
	RestrictedTiers []string           `mapstructure:"restricted_tiers"`
	ExtendPolicy    EffectExtendPolicy `mapstructure:"extend_policy"`
}

// Restricts reports whether accounts on the given tier may not buy the effect.
func (definition EffectDefinition) Restricts(tier Tier) bool {
	for _, restricted := range definition.RestrictedTiers {
		if restricted == tier.String() {
			return true
		}
	}
	return false
}

// ContentProduct is the purchase policy for one kind of content unlock.
// Whether re-purchasing an active entitlement charges again is an explicit
// policy flag, never inferred.
type ContentProduct struct {
	PriceCoins    int64 `mapstructure:"price_coins"`
	DurationDays  int   `mapstructure:"duration_days"`
	Permanent     bool  `mapstructure:"permanent"`
	PaidExtension bool  `mapstructure:"paid_extension"`
}

// CoinPackage is one purchasable currency bundle.
type CoinPackage struct {
	Coins      int64 `mapstructure:"coins"`
	BonusCoins int64 `mapstructure:"bonus_coins"`
}

// TotalCoins is the credited amount for the package.
func (pkg CoinPackage) TotalCoins() int64 {
	return pkg.Coins + pkg.BonusCoins
}

// AdRewardConfig governs externally-sourced ad reward claims.
type AdRewardConfig struct {
	RewardCoins               int64 `mapstructure:"reward_coins"`
	ClockSkewToleranceSeconds int64 `mapstructure:"clock_skew_tolerance_seconds"`
}

// RefundConfig governs compensating credits.
type RefundConfig struct {
	WindowDays     int      `mapstructure:"window_days"`
	AllowedReasons []string `mapstructure:"allowed_reasons"`
}

// ReasonAllowed reports whether the refund reason is on the allow list.
func (config RefundConfig) ReasonAllowed(reason string) bool {
	for _, allowed := range config.AllowedReasons {
		if allowed == reason {
			return true
		}
	}
	return false
}

// IdempotencyConfig bounds how long committed request outcomes are retained.
type IdempotencyConfig struct {
	RetentionSeconds int64 `mapstructure:"retention_seconds"`
}

// ProductConfig is the complete typed product configuration. It is loaded
// once at startup and validated against the enumerated schema; unknown or
// missing fields fail at load time, not at use time.
type ProductConfig struct {
	Tiers           map[string]TierDefinition   `mapstructure:"tiers"`
	Effects         map[string]EffectDefinition `mapstructure:"effects"`
	ContentProducts map[string]ContentProduct   `mapstructure:"content_products"`
	CoinPackages    map[string]CoinPackage      `mapstructure:"coin_packages"`
	AdReward        AdRewardConfig              `mapstructure:"ad_reward"`
	Refund          RefundConfig                `mapstructure:"refund"`
	Idempotency     IdempotencyConfig           `mapstructure:"idempotency"`
}

// DefaultProductConfig returns the built-in product catalogue.
func DefaultProductConfig() ProductConfig {
	return ProductConfig{
		Tiers: map[string]TierDefinition{
			TierFree.String(): {
				Rank:         0,
				PriceCoins:   0,
				DurationDays: 0,
				DailyQuotas: map[string]int64{
					"messages": 10,
					"voice":    10,
					"ad_views": 10,
				},
			},
			TierVIP.String(): {
				Rank:         1,
				PriceCoins:   300,
				DurationDays: 30,
				DailyQuotas: map[string]int64{
					"messages": 100,
					"voice":    50,
					"ad_views": 10,
				},
			},
			TierVVIP.String(): {
				Rank:         2,
				PriceCoins:   600,
				DurationDays: 30,
				DailyQuotas: map[string]int64{
					"messages": 500,
					"voice":    200,
					"ad_views": 10,
				},
			},
		},
		Effects: map[string]EffectDefinition{
			"memory_boost": {
				PriceCoins:   50,
				DurationDays: 30,
				Value:        5000,
				ExtendPolicy: EffectExtend,
			},
			"model_boost": {
				PriceCoins:      80,
				DurationDays:    30,
				Value:           1,
				RestrictedTiers: []string{TierFree.String()},
				ExtendPolicy:    EffectExtend,
			},
		},
		ContentProducts: map[string]ContentProduct{
			"content_unlock_7d": {
				PriceCoins:    100,
				DurationDays:  7,
				PaidExtension: true,
			},
			"content_unlock_permanent": {
				PriceCoins: 250,
				Permanent:  true,
			},
		},
		CoinPackages: map[string]CoinPackage{
			"coins_30":   {Coins: 30},
			"coins_100":  {Coins: 100, BonusCoins: 10},
			"coins_300":  {Coins: 300, BonusCoins: 60},
			"coins_600":  {Coins: 600, BonusCoins: 150},
			"coins_1500": {Coins: 1500, BonusCoins: 500},
		},
		AdReward: AdRewardConfig{
			RewardCoins:               5,
			ClockSkewToleranceSeconds: 120,
		},
		Refund: RefundConfig{
			WindowDays: 7,
			AllowedReasons: []string{
				"accidental_purchase",
				"product_defect",
				"fraud_review",
				"customer_support",
			},
		},
		Idempotency: IdempotencyConfig{
			RetentionSeconds: secondsPerDay,
		},
	}
}

// LoadProductConfig reads a product configuration file. Unknown keys are
// rejected so a typo cannot silently fall back to defaults.
func LoadProductConfig(path string) (ProductConfig, error) {
	loader := viper.New()
	loader.SetConfigFile(path)
	if err := loader.ReadInConfig(); err != nil {
		return ProductConfig{}, fmt.Errorf("%w: read %s: %v", ErrInvalidProductConfig, path, err)
	}
	var config ProductConfig
	if err := loader.UnmarshalExact(&config); err != nil {
		return ProductConfig{}, fmt.Errorf("%w: decode %s: %v", ErrInvalidProductConfig, path, err)
	}
	if err := config.Validate(); err != nil {
		return ProductConfig{}, err
	}
	return config, nil
}

// Validate checks the configuration against the enumerated schema.
func (config ProductConfig) Validate() error {
	for _, requiredTier := range []Tier{TierFree, TierVIP, TierVVIP} {
		if _, ok := config.Tiers[requiredTier.String()]; !ok {
			return fmt.Errorf("%w: missing tier %q", ErrInvalidProductConfig, requiredTier)
		}
	}
	for name, definition := range config.Tiers {
		tier, err := ParseTier(name)
		if err != nil {
			return fmt.Errorf("%w: unknown tier %q", ErrInvalidProductConfig, name)
		}
		if tier == TierFree {
			if definition.PriceCoins != 0 || definition.Rank != 0 {
				return fmt.Errorf("%w: free tier must have zero price and rank", ErrInvalidProductConfig)
			}
		} else {
			if definition.PriceCoins <= 0 {
				return fmt.Errorf("%w: tier %q requires a positive price", ErrInvalidProductConfig, name)
			}
			if definition.DurationDays <= 0 {
				return fmt.Errorf("%w: tier %q requires a positive duration", ErrInvalidProductConfig, name)
			}
			if definition.Rank <= 0 {
				return fmt.Errorf("%w: tier %q requires a positive rank", ErrInvalidProductConfig, name)
			}
		}
		for quotaType, limit := range definition.DailyQuotas {
			if quotaType == "" || limit < 0 {
				return fmt.Errorf("%w: tier %q has an invalid quota %q=%d", ErrInvalidProductConfig, name, quotaType, limit)
			}
		}
	}
	if config.Tiers[TierVIP.String()].Rank >= config.Tiers[TierVVIP.String()].Rank {
		return fmt.Errorf("%w: vvip must rank above vip", ErrInvalidProductConfig)
	}
	for name, definition := range config.Effects {
		if name == "" {
			return fmt.Errorf("%w: empty effect type", ErrInvalidProductConfig)
		}
		if definition.PriceCoins <= 0 || definition.DurationDays <= 0 {
			return fmt.Errorf("%w: effect %q requires positive price and duration", ErrInvalidProductConfig, name)
		}
		if definition.ExtendPolicy != EffectExtend && definition.ExtendPolicy != EffectReplace {
			return fmt.Errorf("%w: effect %q has unknown extend policy %q", ErrInvalidProductConfig, name, definition.ExtendPolicy)
		}
		for _, restricted := range definition.RestrictedTiers {
			if _, err := ParseTier(restricted); err != nil {
				return fmt.Errorf("%w: effect %q restricts unknown tier %q", ErrInvalidProductConfig, name, restricted)
			}
		}
	}
	for name, product := range config.ContentProducts {
		if name == "" {
			return fmt.Errorf("%w: empty content product id", ErrInvalidProductConfig)
		}
		if product.PriceCoins <= 0 {
			return fmt.Errorf("%w: content product %q requires a positive price", ErrInvalidProductConfig, name)
		}
		if product.Permanent && product.DurationDays != 0 {
			return fmt.Errorf("%w: content product %q cannot be both permanent and timed", ErrInvalidProductConfig, name)
		}
		if !product.Permanent && product.DurationDays <= 0 {
			return fmt.Errorf("%w: content product %q requires a positive duration", ErrInvalidProductConfig, name)
		}
		if product.Permanent && product.PaidExtension {
			return fmt.Errorf("%w: content product %q cannot charge for extending a permanent grant", ErrInvalidProductConfig, name)
		}
	}
	for name, pkg := range config.CoinPackages {
		if name == "" || pkg.Coins <= 0 || pkg.BonusCoins < 0 {
			return fmt.Errorf("%w: invalid coin package %q", ErrInvalidProductConfig, name)
		}
	}
	if config.AdReward.RewardCoins <= 0 {
		return fmt.Errorf("%w: ad reward requires a positive amount", ErrInvalidProductConfig)
	}
	if config.AdReward.ClockSkewToleranceSeconds < 0 {
		return fmt.Errorf("%w: negative clock skew tolerance", ErrInvalidProductConfig)
	}
	if config.Refund.WindowDays <= 0 {
		return fmt.Errorf("%w: refund window must be positive", ErrInvalidProductConfig)
	}
	if len(config.Refund.AllowedReasons) == 0 {
		return fmt.Errorf("%w: refund reason allow list is empty", ErrInvalidProductConfig)
	}
	if config.Idempotency.RetentionSeconds <= 0 {
		return fmt.Errorf("%w: idempotency retention must be positive", ErrInvalidProductConfig)
	}
	return nil
}

// TierDefinition resolves the definition for a tier.
func (config ProductConfig) TierDefinition(tier Tier) (TierDefinition, error) {
	definition, ok := config.Tiers[tier.String()]
	if !ok {
		return TierDefinition{}, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	return definition, nil
}

// EffectDefinition resolves the definition for an effect type.
func (config ProductConfig) EffectDefinition(effectType EffectType) (EffectDefinition, error) {
	definition, ok := config.Effects[effectType.String()]
	if !ok {
		return EffectDefinition{}, fmt.Errorf("%w: %q", ErrUnknownEffectType, effectType)
	}
	return definition, nil
}

// ContentProduct resolves a content product by id.
func (config ProductConfig) ContentProduct(productID string) (ContentProduct, error) {
	product, ok := config.ContentProducts[productID]
	if !ok {
		return ContentProduct{}, fmt.Errorf("%w: %q", ErrUnknownContentProduct, productID)
	}
	return product, nil
}

// CoinPackage resolves a coin package by id.
func (config ProductConfig) CoinPackage(packageID string) (CoinPackage, error) {
	pkg, ok := config.CoinPackages[packageID]
	if !ok {
		return CoinPackage{}, fmt.Errorf("%w: %q", ErrUnknownCoinPackage, packageID)
	}
	return pkg, nil
}
