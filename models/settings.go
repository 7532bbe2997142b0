package models

// ScanDefaults are applied to scans started without explicit flags, which
// includes every scheduled scan.
type ScanDefaults struct {
	IncludeMenus   bool `json:"includeMenus"`
	IncludeWidgets bool `json:"includeWidgets"`
}

func DefaultScanDefaults() ScanDefaults {
	return ScanDefaults{IncludeMenus: true, IncludeWidgets: true}
}
