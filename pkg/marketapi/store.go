package marketapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lithammer/shortuuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/veridict/veridict/pkg/config"
	"github.com/veridict/veridict/pkg/lmsr"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUsernameTaken       = errors.New("username already exists")
	ErrMarketResolved      = errors.New("market is already resolved")
	ErrMarketExpired       = errors.New("market has expired")
	ErrInsufficientBalance = errors.New("not enough balance for this bet")
	ErrBonusCooldown       = errors.New("bonus already claimed in the last 24 hours")
)

type SqliteStore struct {
	db   *sql.DB
	econ config.Economics
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func NewSqliteStore(dbName string, econ config.Economics) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", dbName)
	if err != nil {
		return nil, err
	}
	return &SqliteStore{db: db, econ: econ}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) dbid(ctx context.Context, tableName, otheridName, otherid string) (int64, error) {
	var dbid int64

	query := fmt.Sprintf("SELECT id FROM %s WHERE %s = ?", tableName, otheridName)

	err := s.db.QueryRowContext(ctx, query, otherid).Scan(&dbid)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return dbid, nil
}

// decorate fills in the derived prices on a market row. Resolved markets
// get the degenerate distribution for their outcome; the LMSR formula only
// applies while trading is live.
func decorate(m *Market) {
	if m.Resolved {
		if m.Outcome == lmsr.Yes.String() {
			m.PriceYes = 1.0
		} else {
			m.PriceYes = 0.0
		}
		m.PriceNo = 1.0 - m.PriceYes
		return
	}
	m.PriceYes = lmsr.PriceYes(m.YesShares, m.NoShares, m.Liquidity)
	m.PriceNo = lmsr.PriceNo(m.YesShares, m.NoShares, m.Liquidity)
}

func (s *SqliteStore) CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) (*User, error) {
	var exists int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists > 0 {
		return nil, ErrUsernameTaken
	}
	created := now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, is_admin, balance, date_created)
		VALUES(?, ?, ?, ?, ?)`,
		username, passwordHash, isAdmin, s.econ.StartingBalance, created)
	if err != nil {
		return nil, err
	}
	return &User{
		Username:    username,
		IsAdmin:     isAdmin,
		Balance:     s.econ.StartingBalance,
		DateCreated: created,
	}, nil
}

func (s *SqliteStore) GetUser(ctx context.Context, username string) (*User, error) {
	user := &User{}
	var lastBonus, lastLogin sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT username, is_admin, balance, last_bonus_claim, last_login, date_created
		FROM users
		WHERE username = ?`, username).Scan(
		&user.Username, &user.IsAdmin, &user.Balance, &lastBonus, &lastLogin,
		&user.DateCreated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	user.LastBonusClaim = lastBonus.String
	user.LastLogin = lastLogin.String
	return user, nil
}

// GetCredentials returns the stored password hash and admin flag for a
// username, for login verification.
func (s *SqliteStore) GetCredentials(ctx context.Context, username string) (string, bool, error) {
	var hash string
	var isAdmin bool
	err := s.db.QueryRowContext(ctx, `
		SELECT password_hash, is_admin FROM users WHERE username = ?`,
		username).Scan(&hash, &isAdmin)
	if err == sql.ErrNoRows {
		return "", false, ErrNotFound
	}
	if err != nil {
		return "", false, err
	}
	return hash, isAdmin, nil
}

func (s *SqliteStore) TouchLastLogin(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_login = ? WHERE username = ?`, now(), username)
	return err
}

// CreateMarket creates a fresh market with zero shares outstanding. A
// non-positive liquidity falls back to the configured default; the
// liquidity is fixed for the life of the market.
func (s *SqliteStore) CreateMarket(ctx context.Context, title, description string,
	liquidity float64, expires string) (*Market, error) {

	if liquidity <= 0 {
		liquidity = s.econ.DefaultLiquidity
	}
	market := &Market{
		ID:          shortuuid.New(),
		Title:       title,
		Description: description,
		Liquidity:   liquidity,
		DateCreated: now(),
		DateExpires: expires,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markets (uuid, title, description, liquidity, date_created, date_expires)
		VALUES(?, ?, ?, ?, ?, ?)`,
		market.ID, market.Title, market.Description, market.Liquidity,
		market.DateCreated, sql.NullString{String: expires, Valid: expires != ""})
	if err != nil {
		return nil, err
	}
	decorate(market)
	return market, nil
}

const marketColumns = `uuid, title, description, yes_shares, no_shares,
	liquidity, resolved, outcome, date_created, date_expires`

func scanMarket(row interface{ Scan(...any) error }) (*Market, error) {
	market := &Market{}
	var outcome, expires sql.NullString
	err := row.Scan(&market.ID, &market.Title, &market.Description,
		&market.YesShares, &market.NoShares, &market.Liquidity,
		&market.Resolved, &outcome, &market.DateCreated, &expires)
	if err != nil {
		return nil, err
	}
	market.Outcome = outcome.String
	market.DateExpires = expires.String
	decorate(market)
	return market, nil
}

func (s *SqliteStore) GetMarket(ctx context.Context, marketUUID string) (*Market, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE uuid = ?`, marketUUID)
	market, err := scanMarket(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return market, err
}

func (s *SqliteStore) GetMarkets(ctx context.Context) ([]*Market, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+marketColumns+`
		FROM markets
		ORDER BY date_created DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	markets := []*Market{}
	for rows.Next() {
		market, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, market)
	}
	return markets, rows.Err()
}

// PlaceBet buys `amount` shares of a side for a user. The whole
// read-price-write sequence runs inside an exclusive transaction so two
// concurrent bets on the same market can never both be priced against the
// same stale share totals.
func (s *SqliteStore) PlaceBet(ctx context.Context, username, marketUUID,
	side string, amount float64) (*Bet, error) {

	parsedSide, err := lmsr.ParseSide(side)
	if err != nil {
		return nil, err
	}

	userID, err := s.dbid(ctx, "users", "username", username)
	if err != nil {
		return nil, err
	}
	marketID, err := s.dbid(ctx, "markets", "uuid", marketUUID)
	if err != nil {
		return nil, err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err = conn.ExecContext(ctx, "BEGIN EXCLUSIVE TRANSACTION;"); err != nil {
		return nil, err
	}
	defer conn.ExecContext(ctx, "ROLLBACK;")

	var yesShares, noShares, liquidity float64
	var resolved bool
	var expires sql.NullString
	err = conn.QueryRowContext(ctx, `
		SELECT yes_shares, no_shares, liquidity, resolved, date_expires
		FROM markets
		WHERE id = ?`, marketID).Scan(&yesShares, &noShares, &liquidity, &resolved, &expires)
	if err != nil {
		return nil, err
	}
	if resolved {
		return nil, ErrMarketResolved
	}
	if expires.Valid && expires.String != "" {
		deadline, err := time.Parse(time.RFC3339, expires.String)
		if err != nil {
			// a bad stored value shouldn't brick the market; treat it
			// as no expiry but make the corruption visible.
			log.Warn().Str("market", marketUUID).Str("dateExpires", expires.String).
				Msg("unparseable-expiry")
		} else if time.Now().After(deadline) {
			return nil, ErrMarketExpired
		}
	}

	cost, err := lmsr.CostForShares(yesShares, noShares, amount, parsedSide, liquidity)
	if err != nil {
		return nil, err
	}

	var balance float64
	err = conn.QueryRowContext(ctx, `
		SELECT balance FROM users WHERE id = ?`, userID).Scan(&balance)
	if err != nil {
		return nil, err
	}
	if balance < cost {
		return nil, ErrInsufficientBalance
	}

	if parsedSide == lmsr.Yes {
		yesShares += amount
	} else {
		noShares += amount
	}
	betTime := now()

	_, err = conn.ExecContext(ctx, `
		UPDATE users SET balance = ? WHERE id = ?`, balance-cost, userID)
	if err != nil {
		return nil, err
	}
	_, err = conn.ExecContext(ctx, `
		UPDATE markets SET yes_shares = ?, no_shares = ? WHERE id = ?`,
		yesShares, noShares, marketID)
	if err != nil {
		return nil, err
	}

	bet := &Bet{
		ID:          shortuuid.New(),
		Username:    username,
		MarketID:    marketUUID,
		Side:        parsedSide.String(),
		Amount:      amount,
		Price:       cost / amount,
		TotalCost:   cost,
		DateCreated: betTime,
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO bets (uuid, user_id, market_id, side, amount, price, total_cost, date_created)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		bet.ID, userID, marketID, bet.Side, bet.Amount, bet.Price, bet.TotalCost, betTime)
	if err != nil {
		return nil, err
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO transactions (uuid, user_id, market_id, type, amount, description, date_created)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		shortuuid.New(), userID, marketID, TxnBet, -cost,
		fmt.Sprintf("bet %g %s", amount, bet.Side), betTime)
	if err != nil {
		return nil, err
	}
	// log the post-trade price so charts pick up the move.
	_, err = conn.ExecContext(ctx, `
		INSERT INTO price_history (market_id, price_yes, price_no, date)
		VALUES(?, ?, ?, ?)`,
		marketID, lmsr.PriceYes(yesShares, noShares, liquidity),
		lmsr.PriceNo(yesShares, noShares, liquidity), betTime)
	if err != nil {
		return nil, err
	}

	if _, err = conn.ExecContext(ctx, "COMMIT;"); err != nil {
		return nil, err
	}
	log.Debug().Str("username", username).Str("market", marketUUID).
		Str("side", bet.Side).Float64("amount", amount).Float64("cost", cost).
		Msg("bet-placed")
	return bet, nil
}

// ResolveMarket fixes a market's outcome and pays out every winning bet at
// one currency unit per share. Serialized against concurrent bet placement
// on the same market by the same exclusive-transaction discipline as
// PlaceBet.
func (s *SqliteStore) ResolveMarket(ctx context.Context, marketUUID, outcome string) (*Market, error) {
	side, err := lmsr.ParseSide(outcome)
	if err != nil {
		return nil, err
	}
	marketID, err := s.dbid(ctx, "markets", "uuid", marketUUID)
	if err != nil {
		return nil, err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err = conn.ExecContext(ctx, "BEGIN EXCLUSIVE TRANSACTION;"); err != nil {
		return nil, err
	}
	defer conn.ExecContext(ctx, "ROLLBACK;")

	var resolved bool
	err = conn.QueryRowContext(ctx, `
		SELECT resolved FROM markets WHERE id = ?`, marketID).Scan(&resolved)
	if err != nil {
		return nil, err
	}
	if resolved {
		return nil, ErrMarketResolved
	}

	resolveTime := now()
	_, err = conn.ExecContext(ctx, `
		UPDATE markets SET resolved = 1, outcome = ? WHERE id = ?`,
		side.String(), marketID)
	if err != nil {
		return nil, err
	}

	// Winning shares redeem at 1 currency unit apiece.
	rows, err := conn.QueryContext(ctx, `
		SELECT user_id, SUM(amount)
		FROM bets
		WHERE market_id = ? AND side = ?
		GROUP BY user_id`, marketID, side.String())
	if err != nil {
		return nil, err
	}
	type payout struct {
		userID int64
		shares float64
	}
	payouts := []payout{}
	for rows.Next() {
		var p payout
		if err = rows.Scan(&p.userID, &p.shares); err != nil {
			rows.Close()
			return nil, err
		}
		payouts = append(payouts, p)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range payouts {
		_, err = conn.ExecContext(ctx, `
			UPDATE users SET balance = balance + ? WHERE id = ?`, p.shares, p.userID)
		if err != nil {
			return nil, err
		}
		_, err = conn.ExecContext(ctx, `
			INSERT INTO transactions (uuid, user_id, market_id, type, amount, description, date_created)
			VALUES(?, ?, ?, ?, ?, ?, ?)`,
			shortuuid.New(), p.userID, marketID, TxnPayout, p.shares,
			fmt.Sprintf("payout for %s resolution", side.String()), resolveTime)
		if err != nil {
			return nil, err
		}
	}

	priceYes := 0.0
	if side == lmsr.Yes {
		priceYes = 1.0
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO price_history (market_id, price_yes, price_no, date)
		VALUES(?, ?, ?, ?)`, marketID, priceYes, 1.0-priceYes, resolveTime)
	if err != nil {
		return nil, err
	}

	if _, err = conn.ExecContext(ctx, "COMMIT;"); err != nil {
		return nil, err
	}
	log.Info().Str("market", marketUUID).Str("outcome", side.String()).
		Int("winners", len(payouts)).Msg("market-resolved")
	return s.GetMarket(ctx, marketUUID)
}

// ClaimBonus credits the daily bonus to a user, at most once per 24 hours.
func (s *SqliteStore) ClaimBonus(ctx context.Context, username string) (*Transaction, error) {
	userID, err := s.dbid(ctx, "users", "username", username)
	if err != nil {
		return nil, err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err = conn.ExecContext(ctx, "BEGIN EXCLUSIVE TRANSACTION;"); err != nil {
		return nil, err
	}
	defer conn.ExecContext(ctx, "ROLLBACK;")

	var lastClaim sql.NullString
	err = conn.QueryRowContext(ctx, `
		SELECT last_bonus_claim FROM users WHERE id = ?`, userID).Scan(&lastClaim)
	if err != nil {
		return nil, err
	}
	if lastClaim.Valid && lastClaim.String != "" {
		prev, err := time.Parse(time.RFC3339, lastClaim.String)
		if err == nil && time.Since(prev) < 24*time.Hour {
			return nil, ErrBonusCooldown
		}
	}

	claimTime := now()
	_, err = conn.ExecContext(ctx, `
		UPDATE users SET balance = balance + ?, last_bonus_claim = ? WHERE id = ?`,
		s.econ.DailyBonus, claimTime, userID)
	if err != nil {
		return nil, err
	}
	txn := &Transaction{
		ID:          shortuuid.New(),
		Username:    username,
		Type:        TxnBonus,
		Amount:      s.econ.DailyBonus,
		Description: "daily bonus",
		DateCreated: claimTime,
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO transactions (uuid, user_id, type, amount, description, date_created)
		VALUES(?, ?, ?, ?, ?, ?)`,
		txn.ID, userID, txn.Type, txn.Amount, txn.Description, claimTime)
	if err != nil {
		return nil, err
	}

	if _, err = conn.ExecContext(ctx, "COMMIT;"); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *SqliteStore) GetUserBets(ctx context.Context, username string, limit int) ([]*Bet, error) {
	userID, err := s.dbid(ctx, "users", "username", username)
	if err != nil {
		return nil, err
	}
	return s.getBets(ctx, `user_id = ?`, userID, limit)
}

func (s *SqliteStore) GetMarketBets(ctx context.Context, marketUUID string, limit int) ([]*Bet, error) {
	marketID, err := s.dbid(ctx, "markets", "uuid", marketUUID)
	if err != nil {
		return nil, err
	}
	return s.getBets(ctx, `bets.market_id = ?`, marketID, limit)
}

func (s *SqliteStore) getBets(ctx context.Context, where string, id int64, limit int) ([]*Bet, error) {
	limitRendered := ""
	if limit > 0 {
		limitRendered = fmt.Sprintf("LIMIT %d", limit)
	}
	fullQuery := fmt.Sprintf(`
		SELECT bets.uuid, users.username, markets.uuid, side, amount, price,
		total_cost, bets.date_created
		FROM bets
		JOIN users ON bets.user_id = users.id
		JOIN markets ON bets.market_id = markets.id
		WHERE %s
		ORDER BY bets.date_created DESC
		%s`, where, limitRendered)
	log.Debug().Str("fullQuery", fullQuery).Str("storeMethod", "getBets").Msg("executing-query")
	rows, err := s.db.QueryContext(ctx, fullQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bets := []*Bet{}
	for rows.Next() {
		bet := &Bet{}
		err = rows.Scan(&bet.ID, &bet.Username, &bet.MarketID, &bet.Side,
			&bet.Amount, &bet.Price, &bet.TotalCost, &bet.DateCreated)
		if err != nil {
			return nil, err
		}
		bets = append(bets, bet)
	}
	return bets, rows.Err()
}

func (s *SqliteStore) GetTransactions(ctx context.Context, username string, limit int) ([]*Transaction, error) {
	userID, err := s.dbid(ctx, "users", "username", username)
	if err != nil {
		return nil, err
	}
	limitRendered := ""
	if limit > 0 {
		limitRendered = fmt.Sprintf("LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT transactions.uuid, markets.uuid, type, transactions.amount,
		transactions.description, transactions.date_created
		FROM transactions
		LEFT JOIN markets ON transactions.market_id = markets.id
		WHERE user_id = ?
		ORDER BY transactions.date_created DESC
		%s`, limitRendered), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := []*Transaction{}
	for rows.Next() {
		txn := &Transaction{Username: username}
		var marketUUID sql.NullString
		err = rows.Scan(&txn.ID, &marketUUID, &txn.Type, &txn.Amount,
			&txn.Description, &txn.DateCreated)
		if err != nil {
			return nil, err
		}
		txn.MarketID = marketUUID.String
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func (s *SqliteStore) GetPriceHistory(ctx context.Context, marketUUID string, limit int) ([]*PricePoint, error) {
	marketID, err := s.dbid(ctx, "markets", "uuid", marketUUID)
	if err != nil {
		return nil, err
	}
	limitRendered := ""
	if limit > 0 {
		limitRendered = fmt.Sprintf("LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT price_yes, price_no, date
		FROM price_history
		WHERE market_id = ?
		ORDER BY date
		%s`, limitRendered), marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []*PricePoint{}
	for rows.Next() {
		point := &PricePoint{}
		if err = rows.Scan(&point.PriceYes, &point.PriceNo, &point.Date); err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return points, rows.Err()
}

func (s *SqliteStore) Leaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, balance
		FROM users
		ORDER BY balance DESC, username
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*LeaderboardEntry{}
	for rows.Next() {
		entry := &LeaderboardEntry{}
		if err = rows.Scan(&entry.Username, &entry.Balance); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
