package main

import (
	"context"
	"fmt"
	"time"

	cl "marketsim/internal/cli"
	"marketsim/internal/market"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func newWatchCmd(g *globals) *cobra.Command {
	var (
		every  time.Duration
		sector string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live market board, refreshed on an interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			if every < time.Second {
				every = time.Second
			}
			m := newWatchModel(cmd.Context(), newClient(g), sector, every)
			_, err := tea.NewProgram(m, tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&every, "every", 5*time.Second, "refresh interval")
	cmd.Flags().StringVar(&sector, "sector", "", "only show one sector")
	return cmd
}

type stocksMsg struct {
	stocks []market.Stock
	err    error
	at     time.Time
}

type refreshMsg struct{}

type watchModel struct {
	ctx    context.Context
	client *cl.Client
	sector string
	every  time.Duration

	table   table.Model
	updated time.Time
	err     error
}

var (
	watchTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	watchStatus = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	watchError  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func newWatchModel(ctx context.Context, client *cl.Client, sector string, every time.Duration) watchModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "SYMBOL", Width: 7},
			{Title: "NAME", Width: 24},
			{Title: "SECTOR", Width: 12},
			{Title: "PRICE", Width: 12},
			{Title: "CHANGE", Width: 9},
			{Title: "VOLUME", Width: 12},
		}),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	return watchModel{ctx: ctx, client: client, sector: sector, every: every, table: t}
}

func (m watchModel) Init() tea.Cmd {
	return m.fetch()
}

func (m watchModel) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
		defer cancel()
		stocks, err := m.client.ListStocks(ctx, m.sector)
		return stocksMsg{stocks: stocks, err: err, at: time.Now()}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}
	case stocksMsg:
		m.err = msg.err
		if msg.err == nil {
			m.updated = msg.at
			m.table.SetRows(stockRows(msg.stocks))
		}
		return m, tea.Tick(m.every, func(time.Time) tea.Msg { return refreshMsg{} })
	case refreshMsg:
		return m, m.fetch()
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m watchModel) View() string {
	status := "waiting for first refresh"
	if !m.updated.IsZero() {
		status = "updated " + m.updated.Format("15:04:05")
	}
	out := watchTitle.Render("MARKET") + "  " + watchStatus.Render(status+"  (r refresh, q quit)") + "\n\n" + m.table.View() + "\n"
	if m.err != nil {
		out += watchError.Render("refresh failed: "+m.err.Error()) + "\n"
	}
	return out
}

// stockRows renders without colour; the table styles cells itself.
func stockRows(stocks []market.Stock) []table.Row {
	rows := make([]table.Row, 0, len(stocks))
	for _, s := range stocks {
		rows = append(rows, table.Row{
			s.Symbol,
			truncate(s.CompanyName, 24),
			truncate(s.Sector, 12),
			formatPrice(s.CurrentPrice),
			fmt.Sprintf("%+.2f%%", s.PriceChangePct),
			comma(s.VolumeToday),
		})
	}
	return rows
}
