package types

// TabInfo holds metadata about an attached page session, used to route
// journal output and to label events.
type TabInfo struct {
	TargetID    string `json:"target_id"`
	URL         string `json:"url"`
	PathSegment string `json:"path_segment"` // Transformed URL path, e.g., "account_settings"
	BrowserID   string `json:"browser_id"`   // Short ID from target ID, e.g., "B0D5A8E8"
}

// TabInfoProvider looks up tab information by ID.
// This breaks the import cycle between capture and cdp packages.
type TabInfoProvider interface {
	GetByStringID(tabID string) (*TabInfo, bool)
}
