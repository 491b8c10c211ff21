package marketapi

// Transaction ledger entry types.
const (
	TxnBet    = "BET"
	TxnPayout = "PAYOUT"
	TxnBonus  = "BONUS"
)

type User struct {
	Username       string  `json:"username"`
	IsAdmin        bool    `json:"isAdmin"`
	Balance        float64 `json:"balance"`
	LastBonusClaim string  `json:"lastBonusClaim,omitempty"`
	LastLogin      string  `json:"lastLogin,omitempty"`
	DateCreated    string  `json:"dateCreated"`
}

// Market carries the persisted AMM state triple (YesShares, NoShares,
// Liquidity) plus the prices derived from it at read time. Once a market
// is resolved the prices are the degenerate 1/0 distribution for the
// recorded outcome, not the LMSR formula.
type Market struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	YesShares   float64 `json:"yesShares"`
	NoShares    float64 `json:"noShares"`
	Liquidity   float64 `json:"liquidity"`
	Resolved    bool    `json:"resolved"`
	Outcome     string  `json:"outcome,omitempty"`
	PriceYes    float64 `json:"priceYes"`
	PriceNo     float64 `json:"priceNo"`
	DateCreated string  `json:"dateCreated"`
	DateExpires string  `json:"dateExpires,omitempty"`
}

type Bet struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	MarketID    string  `json:"marketId"`
	Side        string  `json:"side"`
	Amount      float64 `json:"amount"`
	Price       float64 `json:"price"`
	TotalCost   float64 `json:"totalCost"`
	DateCreated string  `json:"dateCreated"`
}

type Transaction struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	MarketID    string  `json:"marketId,omitempty"`
	Type        string  `json:"type"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
	DateCreated string  `json:"dateCreated"`
}

type PricePoint struct {
	PriceYes float64 `json:"priceYes"`
	PriceNo  float64 `json:"priceNo"`
	Date     string  `json:"date"`
}

type LeaderboardEntry struct {
	Username string  `json:"username"`
	Balance  float64 `json:"balance"`
}
