package spapi

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type restrictionsResponse struct {
	Restrictions []struct {
		MarketplaceID string `json:"marketplaceId"`
		ConditionType string `json:"conditionType"`
		Reasons       []struct {
			Message    string `json:"message"`
			ReasonCode string `json:"reasonCode"`
		} `json:"reasons"`
	} `json:"restrictions"`
}

type catalogResponse struct {
	ASIN      string `json:"asin"`
	Summaries []struct {
		MarketplaceID string `json:"marketplaceId"`
		Brand         string `json:"brand"`
		ItemName      string `json:"itemName"`
	} `json:"summaries"`
}

type errorResponse struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}
