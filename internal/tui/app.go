// Package tui renders the loading engine in a terminal grid. It is host
// glue around the gallery handle: the engine neither knows nor cares that
// the surface is a terminal.
package tui

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tidegrove/galleria/internal/domain"
	"github.com/tidegrove/galleria/internal/gallery"
	"github.com/tidegrove/galleria/internal/search"
	"github.com/tidegrove/galleria/internal/telemetry"
	"github.com/tidegrove/galleria/internal/tui/styles"
)

const (
	cellWidth = 22
	cellRows  = 3
	// Pixel pitch fed to the engine per grid row; the engine's viewport
	// math is pixel-based even when the host renders characters.
	rowPitchPx = 165.0
)

// Model is the main Bubble Tea model for the gallery browser.
type Model struct {
	Gallery   *gallery.Gallery
	Surface   *Surface
	SearchSvc *search.Service
	Catalog   *domain.Catalog
	Monitor   *telemetry.Monitor

	advisories <-chan telemetry.Advisory
	logger     *slog.Logger
	lastTick   time.Time

	width, height int
	cursor        int
	scrollRow     int
	searching     bool
	searchInput   textinput.Model
	spin          spinner.Model

	categories  []domain.CategoryCount
	filterIdx   int // 0 = all, 1.. = categories
	lastErr     error
	advisory    string
	advisoryLvl telemetry.Severity
}

// NewModel wires the TUI around an orchestrator handle.
func NewModel(g *gallery.Gallery, surface *Surface, catalog *domain.Catalog, searchSvc *search.Service, monitor *telemetry.Monitor, advisories <-chan telemetry.Advisory, logger *slog.Logger) Model {
	if logger == nil {
		logger = slog.Default()
	}

	input := textinput.New()
	input.Placeholder = "search the gallery"
	input.CharLimit = 80

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.AccentStyle

	return Model{
		Gallery:     g,
		Surface:     surface,
		SearchSvc:   searchSvc,
		Catalog:     catalog,
		Monitor:     monitor,
		advisories:  advisories,
		logger:      logger,
		searchInput: input,
		spin:        sp,
		categories:  catalog.Categories(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		StartGalleryCmd(m.Gallery),
		TickCmd(),
		m.spin.Tick,
	}
	if m.advisories != nil {
		cmds = append(cmds, WatchAdvisoriesCmd(m.advisories))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case GalleryStartedMsg:
		m.lastErr = nil
		return m, nil

	case ErrMsg:
		m.lastErr = msg
		m.logger.Warn("tui error", "error", msg.Err, "context", msg.Context)
		return m, nil

	case TickMsg:
		// Frame sampling: a tick arriving at more than twice the frame
		// budget counts as a dropped frame.
		now := time.Time(msg)
		if m.Monitor != nil && !m.lastTick.IsZero() {
			m.Monitor.RecordFrame(now.Sub(m.lastTick) > 200*time.Millisecond)
		}
		m.lastTick = now
		return m, TickCmd()

	case AdvisoryMsg:
		m.advisory, m.advisoryLvl = summarizeAdvisory(msg.Advisory)
		return m, WatchAdvisoriesCmd(m.advisories)

	case AdvisoriesClosedMsg:
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	if m.searching {
		var cmd tea.Cmd
		m.searchInput, cmd = m.searchInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.searching {
		switch msg.String() {
		case "esc":
			m.searching = false
			m.searchInput.Reset()
			return m, nil
		case "enter":
			m.jumpToFirstMatch()
			m.searching = false
			m.searchInput.Reset()
			return m, nil
		default:
			var cmd tea.Cmd
			m.searchInput, cmd = m.searchInput.Update(msg)
			return m, cmd
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "/":
		m.searching = true
		m.searchInput.Focus()
		return m, textinput.Blink

	case "f":
		m.cycleFilter(1)
		return m, nil
	case "F":
		m.cycleFilter(-1)
		return m, nil

	case "left", "h":
		m.moveCursor(-1)
	case "right", "l":
		m.moveCursor(1)
	case "up", "k":
		m.moveCursor(-m.columns())
	case "down", "j":
		m.moveCursor(m.columns())
	case "pgdown":
		m.moveCursor(m.columns() * m.gridRows())
	case "pgup":
		m.moveCursor(-m.columns() * m.gridRows())

	case "enter":
		if _, ok := m.selectedID(); ok && m.Monitor != nil {
			m.Monitor.RecordInteraction(telemetry.InteractionItemClick)
		}

	case "r":
		if id, ok := m.selectedID(); ok {
			return m, RetryItemCmd(m.Gallery, id)
		}
	case "R":
		if m.Gallery.State() == domain.PhaseError {
			return m, RetryGalleryCmd(m.Gallery)
		}
	}
	return m, nil
}

// cycleFilter steps through "all" plus the catalog categories.
func (m *Model) cycleFilter(dir int) {
	n := len(m.categories) + 1
	m.filterIdx = ((m.filterIdx+dir)%n + n) % n

	filter := domain.FilterAll
	if m.filterIdx > 0 {
		filter = m.categories[m.filterIdx-1].Name
	}

	m.Surface.Reset()
	m.cursor, m.scrollRow = 0, 0
	m.Gallery.ApplyFilter(filter)
}

func (m *Model) moveCursor(delta int) {
	items, _ := m.Surface.Items()
	if len(items) == 0 {
		return
	}
	m.cursor += delta
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.cursor >= len(items) {
		m.cursor = len(items) - 1
	}

	// Keep the cursor's row inside the visible grid and tell the engine
	// where the viewport landed.
	row := m.cursor / m.columns()
	if row < m.scrollRow {
		m.scrollRow = row
	}
	if row >= m.scrollRow+m.gridRows() {
		m.scrollRow = row - m.gridRows() + 1
	}
	m.Gallery.Scroll(float64(m.scrollRow) * rowPitchPx)
}

func (m Model) selectedID() (string, bool) {
	items, _ := m.Surface.Items()
	if m.cursor < 0 || m.cursor >= len(items) {
		return "", false
	}
	return items[m.cursor].ID, true
}

// jumpToFirstMatch moves the cursor to the best search hit.
func (m *Model) jumpToFirstMatch() {
	results := m.SearchSvc.Search(m.searchInput.Value())
	if len(results) == 0 {
		return
	}
	items, _ := m.Surface.Items()
	for i, it := range items {
		if it.ID == results[0].Item.ID {
			m.moveCursor(i - m.cursor)
			return
		}
	}
}

func (m Model) columns() int {
	cols := m.width / cellWidth
	if cols < 1 {
		cols = 1
	}
	if cols > 6 {
		cols = 6
	}
	return cols
}

func (m Model) gridRows() int {
	rows := (m.height - 4) / cellRows
	if rows < 1 {
		rows = 1
	}
	return rows
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")

	if err := m.Surface.Banner(); err != nil {
		b.WriteString(styles.BannerStyle.Render(fmt.Sprintf("gallery failed: %v  (press R to retry)", err)))
		b.WriteString("\n")
	}

	if m.searching {
		b.WriteString(styles.AccentStyle.Render("/ "))
		b.WriteString(m.searchInput.View())
		b.WriteString("\n")
	}

	b.WriteString(m.gridView())
	b.WriteString("\n")
	b.WriteString(m.footerView())
	return b.String()
}

func (m Model) headerView() string {
	filter := domain.FilterAll
	if m.filterIdx > 0 {
		filter = m.categories[m.filterIdx-1].Name
	}

	title := styles.TitleStyle.Render("galleria")
	state := styles.SubtitleStyle.Render(m.Gallery.State().String())
	prog := fmt.Sprintf("%3.0f%%", m.Gallery.Progress()*100)
	if !m.Gallery.Ready() {
		prog = m.spin.View() + " " + prog
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		title, "  ",
		styles.AccentStyle.Render(filter), "  ",
		state, "  ",
		styles.DimStyle.Render(prog),
	)
}

func (m Model) gridView() string {
	items, statuses := m.Surface.Items()
	cols := m.columns()
	rows := m.gridRows()

	start := m.scrollRow * cols
	if start > len(items) {
		start = len(items)
	}
	end := start + cols*rows
	if end > len(items) {
		end = len(items)
	}

	var lines []string
	for rowStart := start; rowStart < end; rowStart += cols {
		rowEnd := rowStart + cols
		if rowEnd > end {
			rowEnd = end
		}
		var cells []string
		for i := rowStart; i < rowEnd; i++ {
			cells = append(cells, m.cellView(items[i], statuses[items[i].ID], i == m.cursor))
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	if len(lines) == 0 {
		return styles.DimStyle.Render("  (no items in this filter)")
	}
	return strings.Join(lines, "\n")
}

func (m Model) cellView(item domain.MediaItem, status domain.ItemStatus, selected bool) string {
	marker := statusMarker(status)
	label := item.ID
	if len(label) > cellWidth-6 {
		label = label[:cellWidth-6]
	}
	content := fmt.Sprintf("%s %s", marker, label)

	style := styles.CellStyle
	if selected {
		style = styles.SelectedCellStyle
	}
	return style.Width(cellWidth - 2).Render(content)
}

func statusMarker(s domain.ItemStatus) string {
	switch s {
	case domain.ItemLoaded:
		return styles.SuccessStyle.Render("✓")
	case domain.ItemLoading:
		return styles.AccentStyle.Render("~")
	case domain.ItemFailed:
		return styles.ErrorStyle.Render("✗")
	default:
		return styles.DimStyle.Render("·")
	}
}

func (m Model) footerView() string {
	snap := m.Gallery.Snapshot()
	stats := fmt.Sprintf("loaded %d/%d  failed %d", snap.Loaded, snap.Total, snap.Failed)

	parts := []string{stats}
	if m.advisory != "" {
		adv := m.advisory
		switch m.advisoryLvl {
		case telemetry.SeverityCritical:
			adv = styles.ErrorStyle.Render(adv)
		case telemetry.SeverityWarning:
			adv = styles.AccentStyle.Render(adv)
		default:
			adv = styles.InfoStyle.Render(adv)
		}
		parts = append(parts, adv)
	}
	if m.lastErr != nil {
		parts = append(parts, styles.ErrorStyle.Render(m.lastErr.Error()))
	}
	parts = append(parts, styles.DimStyle.Render("/ search  f filter  r retry  q quit"))

	return styles.FooterStyle.Width(m.width).Render(strings.Join(parts, "  •  "))
}

// summarizeAdvisory condenses an advisory into one footer line.
func summarizeAdvisory(adv telemetry.Advisory) (string, telemetry.Severity) {
	if len(adv.Regressions) == 0 {
		return "", telemetry.SeverityInfo
	}
	worst := telemetry.SeverityInfo
	axes := make([]string, 0, len(adv.Regressions))
	for _, r := range adv.Regressions {
		axes = append(axes, fmt.Sprintf("%s %+.0f%%", r.Axis, r.Change*100))
		if r.Severity > worst {
			worst = r.Severity
		}
	}
	return "telemetry: " + strings.Join(axes, ", "), worst
}
