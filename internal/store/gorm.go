package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/fivestack-gg/match-coordinator/internal/engine"
)

type matchRow struct {
	ID              string `gorm:"primaryKey"`
	Status          string `gorm:"not null;index"`
	MatchType       string `gorm:"not null"`
	MaxPlayers      int    `gorm:"not null"`
	HostID          string `gorm:"not null"`
	CaptainAlphaID  string
	CaptainBravoID  string
	TeamNameAlpha   string
	TeamNameBravo   string
	DraftTurn       string
	DraftDeadline   *time.Time
	WinnerTeam      string
	ScreenshotURL   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (matchRow) TableName() string { return "matches" }

type rosterRow struct {
	MatchID     string `gorm:"primaryKey"`
	PlayerID    string `gorm:"primaryKey"`
	DisplayName string `gorm:"not null"`
	Elo         int    `gorm:"not null"`
	Team        string `gorm:"not null"`
	IsBot       bool
	JoinOrder   int `gorm:"not null"`
	InPool      bool
}

func (rosterRow) TableName() string { return "match_roster" }

type pickRow struct {
	MatchID  string `gorm:"primaryKey"`
	Seq      int    `gorm:"primaryKey;autoIncrement:false"`
	PickerID string `gorm:"not null"`
	PickedID string `gorm:"not null"`
	PickedAt time.Time
}

func (pickRow) TableName() string { return "match_picks" }

// Gorm is the Postgres-backed Match Store.
type Gorm struct {
	db *gorm.DB
}

func Open(dsn string) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&matchRow{}, &rosterRow{}, &pickRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) CreateMatch(ctx context.Context, m *engine.Match) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(toMatchRow(m)).Error; err != nil {
			return err
		}
		return tx.Create(toRosterRows(m)).Error
	})
}

func (g *Gorm) SaveMatch(ctx context.Context, m *engine.Match) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).
			Create(toMatchRow(m)).Error; err != nil {
			return err
		}
		// Roster membership churns on join/leave/kick; replacing the set is
		// simpler than diffing it.
		if err := tx.Where("match_id = ?", m.ID).Delete(&rosterRow{}).Error; err != nil {
			return err
		}
		if rows := toRosterRows(m); len(rows) > 0 {
			if err := tx.Create(rows).Error; err != nil {
				return err
			}
		}
		if m.Draft != nil {
			// Pick history is append-only; conflicts mean the row is already there.
			for i, p := range m.Draft.PickHistory {
				row := pickRow{MatchID: m.ID, Seq: i, PickerID: p.PickerID, PickedID: p.PlayerID, PickedAt: p.At}
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (g *Gorm) GetMatch(ctx context.Context, id string) (*engine.Match, error) {
	var row matchRow
	err := g.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var roster []rosterRow
	if err := g.db.WithContext(ctx).
		Order("join_order").Find(&roster, "match_id = ?", id).Error; err != nil {
		return nil, err
	}
	var picks []pickRow
	if err := g.db.WithContext(ctx).
		Order("seq").Find(&picks, "match_id = ?", id).Error; err != nil {
		return nil, err
	}
	return fromRows(row, roster, picks), nil
}

func toMatchRow(m *engine.Match) *matchRow {
	row := &matchRow{
		ID:             m.ID,
		Status:         string(m.Status),
		MatchType:      string(m.Type),
		MaxPlayers:     m.MaxPlayers,
		HostID:         m.HostID,
		CaptainAlphaID: m.CaptainAlphaID,
		CaptainBravoID: m.CaptainBravoID,
		TeamNameAlpha:  m.LockedTeamNames[engine.TeamAlpha],
		TeamNameBravo:  m.LockedTeamNames[engine.TeamBravo],
		WinnerTeam:     string(m.WinnerTeam),
		ScreenshotURL:  m.ScreenshotURL,
	}
	if m.Draft != nil {
		row.DraftTurn = string(m.Draft.CurrentTurn)
		d := m.Draft.Deadline
		row.DraftDeadline = &d
	}
	return row
}

func toRosterRows(m *engine.Match) []rosterRow {
	rows := make([]rosterRow, 0, len(m.Players))
	inPool := map[string]bool{}
	if m.Draft != nil {
		for _, p := range m.Draft.Pool {
			inPool[p.ID] = true
		}
	}
	for _, p := range m.Players {
		rows = append(rows, rosterRow{
			MatchID:     m.ID,
			PlayerID:    p.ID,
			DisplayName: p.DisplayName,
			Elo:         p.Elo,
			Team:        string(p.Team),
			IsBot:       p.IsBot,
			JoinOrder:   p.JoinOrder,
			InPool:      inPool[p.ID],
		})
	}
	return rows
}

func fromRows(row matchRow, roster []rosterRow, picks []pickRow) *engine.Match {
	m := &engine.Match{
		ID:             row.ID,
		Status:         engine.Status(row.Status),
		Type:           engine.MatchType(row.MatchType),
		MaxPlayers:     row.MaxPlayers,
		HostID:         row.HostID,
		CaptainAlphaID: row.CaptainAlphaID,
		CaptainBravoID: row.CaptainBravoID,
		WinnerTeam:     engine.Team(row.WinnerTeam),
		ScreenshotURL:  row.ScreenshotURL,
	}
	if row.TeamNameAlpha != "" || row.TeamNameBravo != "" {
		m.LockedTeamNames = map[engine.Team]string{
			engine.TeamAlpha: row.TeamNameAlpha,
			engine.TeamBravo: row.TeamNameBravo,
		}
	}
	var pool []engine.Player
	for _, r := range roster {
		p := engine.Player{
			ID:          r.PlayerID,
			DisplayName: r.DisplayName,
			Elo:         r.Elo,
			Team:        engine.Team(r.Team),
			IsBot:       r.IsBot,
			JoinOrder:   r.JoinOrder,
		}
		m.Players = append(m.Players, p)
		if r.InPool {
			pool = append(pool, p)
		}
	}
	if m.Status == engine.StatusDrafting {
		d := &engine.DraftState{
			Pool:        pool,
			CurrentTurn: engine.Team(row.DraftTurn),
			PickHistory: []engine.Pick{},
		}
		if row.DraftDeadline != nil {
			d.Deadline = *row.DraftDeadline
		}
		for _, p := range picks {
			d.PickHistory = append(d.PickHistory, engine.Pick{
				PickerID: p.PickerID,
				PlayerID: p.PickedID,
				At:       p.PickedAt,
			})
		}
		m.Draft = d
	}
	return m
}
