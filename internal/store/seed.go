package store

import "github.com/punchamoorthee/remitops/internal/domain"

// DefaultAssets is the starter asset catalog loaded by cmd/seeder and by
// SEED_CATALOG=true deployments.
func DefaultAssets() []domain.Asset {
	return []domain.Asset{
		{Code: "USD", Name: "US Dollar", Decimals: 2, Active: true},
		{Code: "EUR", Name: "Euro", Decimals: 2, Active: true},
		{Code: "MXN", Name: "Mexican Peso", Decimals: 2, Active: true},
		{Code: "PHP", Name: "Philippine Peso", Decimals: 2, Active: true},
		{Code: "KES", Name: "Kenyan Shilling", Decimals: 2, Active: true},
		{Code: "NGN", Name: "Nigerian Naira", Decimals: 2, Active: true},
		{Code: "BTC", Name: "Bitcoin", Decimals: 8, Active: true},
		{Code: "VES", Name: "Venezuelan Bolivar", Decimals: 2, Active: false},
	}
}

// DefaultRoutes is the starter route catalog.
func DefaultRoutes() []domain.Route {
	return []domain.Route{
		{ID: "usd-mxn-bank-banorte", FromAsset: "USD", ToAsset: "MXN", Rail: domain.RailBank, Provider: "banorte", FeeFixed: 3.99, FeePct: 0.5, FXMarginPct: 1.2, EtaMinMinutes: 60, EtaMaxMinutes: 1440, Active: true},
		{ID: "usd-mxn-bank-spei", FromAsset: "USD", ToAsset: "MXN", Rail: domain.RailBank, Provider: "spei", FeeFixed: 1.99, FeePct: 1.0, FXMarginPct: 1.5, EtaMinMinutes: 5, EtaMaxMinutes: 30, Active: true},
		{ID: "usd-mxn-lightning-strike", FromAsset: "USD", ToAsset: "MXN", Rail: domain.RailLightning, Provider: "strike", FeeFixed: 0.5, FeePct: 0.3, FXMarginPct: 0.8, EtaMinMinutes: 1, EtaMaxMinutes: 5, Active: true},
		{ID: "usd-php-bank-bdo", FromAsset: "USD", ToAsset: "PHP", Rail: domain.RailBank, Provider: "bdo", FeeFixed: 2.99, FeePct: 0.8, FXMarginPct: 1.4, EtaMinMinutes: 30, EtaMaxMinutes: 720, Active: true},
		{ID: "usd-php-mobile-gcash", FromAsset: "USD", ToAsset: "PHP", Rail: domain.RailMobileMoney, Provider: "gcash", FeeFixed: 1.49, FeePct: 1.2, FXMarginPct: 1.6, EtaMinMinutes: 2, EtaMaxMinutes: 15, Active: true},
		{ID: "usd-kes-mobile-mpesa", FromAsset: "USD", ToAsset: "KES", Rail: domain.RailMobileMoney, Provider: "mpesa", FeeFixed: 0.99, FeePct: 1.5, FXMarginPct: 1.8, EtaMinMinutes: 1, EtaMaxMinutes: 10, Active: true},
		{ID: "usd-kes-lightning-bitnob", FromAsset: "USD", ToAsset: "KES", Rail: domain.RailLightning, Provider: "bitnob", FeeFixed: 0.25, FeePct: 0.9, FXMarginPct: 1.1, EtaMinMinutes: 1, EtaMaxMinutes: 3, Active: true},
		{ID: "usd-ngn-bank-gtbank", FromAsset: "USD", ToAsset: "NGN", Rail: domain.RailBank, Provider: "gtbank", FeeFixed: 2.49, FeePct: 1.0, FXMarginPct: 2.5, EtaMinMinutes: 30, EtaMaxMinutes: 240, Active: true},
		{ID: "eur-mxn-bank-spei", FromAsset: "EUR", ToAsset: "MXN", Rail: domain.RailBank, Provider: "spei", FeeFixed: 2.49, FeePct: 0.9, FXMarginPct: 1.5, EtaMinMinutes: 10, EtaMaxMinutes: 60, Active: true},
		{ID: "usd-mxn-bank-legacy", FromAsset: "USD", ToAsset: "MXN", Rail: domain.RailBank, Provider: "legacywire", FeeFixed: 9.99, FeePct: 0, FXMarginPct: 3.0, EtaMinMinutes: 1440, EtaMaxMinutes: 4320, Active: false},
	}
}
