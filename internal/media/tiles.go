package media

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/pkg/signalling"
)

var (
	tileHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#22d3ee")).
			Align(lipgloss.Center)

	tileCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	tileRowStyle    = tileCellStyle.Foreground(lipgloss.Color("255"))
	tileRowAltStyle = tileCellStyle.Foreground(lipgloss.Color("245"))
)

// One remote participant shown on the board.
type Tile struct {
	PeerID     signalling.ParticipantIdentifier
	StreamID   string
	AttachedAt time.Time
}

// A terminal rendition of the tile area: a table with one row per remote
// participant, redrawn to the writer whenever a tile is added or removed.
type TileBoard struct {
	logger *slog.Logger
	w      io.Writer
	now    func() time.Time

	mu    sync.Mutex
	tiles []Tile
}

func NewTileBoard(w io.Writer, logger *slog.Logger) *TileBoard {
	if logger == nil {
		logger = slog.Default()
	}
	return &TileBoard{
		logger: logger,
		w:      w,
		now:    time.Now,
	}
}

func (b *TileBoard) Attach(peerID signalling.ParticipantIdentifier, stream *RemoteStream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.indexOf(peerID) >= 0 {
		return
	}
	b.tiles = append(b.tiles, Tile{
		PeerID:     peerID,
		StreamID:   stream.ID(),
		AttachedAt: b.now(),
	})
	b.render()
}

func (b *TileBoard) Detach(peerID signalling.ParticipantIdentifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(peerID)
	if i < 0 {
		return
	}
	b.tiles = slices.Delete(b.tiles, i, i+1)
	b.render()
}

// The tiles currently shown, in the order they were attached.
func (b *TileBoard) Tiles() []Tile {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.tiles)
}

func (b *TileBoard) indexOf(peerID signalling.ParticipantIdentifier) int {
	return slices.IndexFunc(b.tiles, func(t Tile) bool { return t.PeerID == peerID })
}

// Must hold b.mu
func (b *TileBoard) render() {
	if b.w == nil {
		return
	}

	rows := make([][]string, 0, len(b.tiles))
	for i, tile := range b.tiles {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			tile.PeerID.Short(),
			tile.StreamID,
			tile.AttachedAt.Format(time.TimeOnly),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))).
		Headers("#", "PARTICIPANT", "STREAM", "SINCE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return tileHeaderStyle
			case row%2 == 0:
				return tileRowStyle
			default:
				return tileRowAltStyle
			}
		})

	if _, err := fmt.Fprintf(b.w, "%d participant(s) in view\n%s\n", len(b.tiles), t.String()); err != nil {
		b.logger.Warn("could not render tile board", "err", err)
	}
}
