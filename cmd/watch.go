package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"

	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
	wsmarshaller "github.com/campusnotice/notice-delivery-service/internal/handler/marshaller/ws"
)

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Show live group presence as an admin observer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server",
				Value: "ws://localhost:8080/ws",
				Usage: "Websocket endpoint of a running server",
			},
		},
		Action: func(c *cli.Context) error {
			u, err := url.Parse(c.String("server"))
			if err != nil {
				return err
			}
			conn, _, err := websocket.DefaultDialer.DialContext(c.Context, u.String(), nil)
			if err != nil {
				return fmt.Errorf("connect %s: %w", u, err)
			}
			defer conn.Close()

			if err := conn.WriteJSON(wsmarshaller.ClientCommand{Type: wsmarshaller.CommandRegisterAdmin}); err != nil {
				return err
			}
			return runDashboard(conn, u.Host)
		},
	}
}

type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func runDashboard(conn *websocket.Conn, host string) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("terminal init: %w", err)
	}
	defer ui.Close()

	header := widgets.NewParagraph()
	header.Title = " " + ServiceName + " @ " + host + " "
	header.Text = "waiting for the first snapshot... (q to quit)"

	table := widgets.NewTable()
	table.Title = " Presence "
	table.Rows = presenceRows(nil)
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.RowSeparator = false
	table.FillRow = true
	table.RowStyles[0] = ui.NewStyle(ui.ColorYellow, ui.ColorClear, ui.ModifierBold)

	layout := func() {
		w, h := ui.TerminalDimensions()
		header.SetRect(0, 0, w, 3)
		table.SetRect(0, 3, w, h)
		ui.Render(header, table)
	}
	layout()

	frames := make(chan wsFrame)
	readErr := make(chan error, 1)
	go func() {
		for {
			var f wsFrame
			if err := conn.ReadJSON(&f); err != nil {
				readErr <- err
				return
			}
			frames <- f
		}
	}()

	events := ui.PollEvents()
	for {
		select {
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				layout()
			}

		case f := <-frames:
			switch f.Type {
			case "presence":
				var snap model.PresenceSnapshot
				if err := json.Unmarshal(f.Payload, &snap); err != nil {
					continue
				}
				table.Rows = presenceRows(&snap)
				header.Text = fmt.Sprintf("online: %d   groups: %d   updated: %s   (q to quit)",
					snap.TotalOnline, len(snap.Groups), snap.GeneratedAt.Local().Format(time.TimeOnly))
			case "error":
				header.Text = "server rejected a command: " + string(f.Payload)
			}
			layout()

		case err := <-readErr:
			return fmt.Errorf("connection lost: %w", err)
		}
	}
}

// presenceRows renders a snapshot as table rows, header first.
func presenceRows(snap *model.PresenceSnapshot) [][]string {
	rows := [][]string{{"Primary", "Secondary", "Online", "Total", "Share"}}
	if snap == nil {
		return rows
	}
	for _, g := range snap.Groups {
		share := "-"
		if g.Total > 0 {
			share = strconv.Itoa(g.Online*100/g.Total) + "%"
		}
		rows = append(rows, []string{
			g.Primary,
			g.Secondary,
			strconv.Itoa(g.Online),
			strconv.Itoa(g.Total),
			share,
		})
	}
	return rows
}
