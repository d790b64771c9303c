package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pterm/pterm"
	"github.com/wfunc/holdgame/game"
	"github.com/wfunc/holdgame/models"
	"github.com/wfunc/holdgame/network"
)

const heartbeatInterval = 5 * time.Second

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// send frames data and writes it to the server.
func (c *conn) send(msgID uint16, v interface{}) error {
	var data []byte
	if v != nil {
		var err error
		if data, err = json.Marshal(v); err != nil {
			return err
		}
	}
	packet, err := network.EncodePacket(msgID, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, packet)
}

const help = `commands:
  add <name>         add a player
  remove <id>        remove a player
  rounds <n>         set the round count
  hardcore on|off    toggle hardcore mode
  start              start the game
  hold / release     press or release the hold button
  done <ok> <secs>   report a turn result from an external timer
  reset              back to setup
  stop               emergency stop
  light <percent>    set the display brightness
  board [n]          show the leaderboard
  quit`

func main() {
	addr := flag.String("addr", "localhost:8080", "server address")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	pterm.Info.Printfln("Connecting to %s", u.String())

	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		pterm.Error.Printfln("Dial failed: %v", err)
		os.Exit(1)
	}
	defer ws.Close()
	c := &conn{ws: ws}

	done := make(chan struct{})
	var (
		mu       sync.Mutex
		settings = game.DefaultSettings()
	)

	// Read loop
	go func() {
		defer close(done)
		var lastPhase string
		for {
			_, message, err := ws.ReadMessage()
			if err != nil {
				pterm.Error.Println("Read error:", err)
				return
			}
			p, err := network.DecodePacket(message)
			if err != nil {
				pterm.Warning.Printfln("Received invalid packet of size %d", len(message))
				continue
			}
			switch p.MsgID {
			case network.MsgTypeSnapshot:
				var snap game.Snapshot
				if json.Unmarshal(p.Data, &snap) != nil {
					continue
				}
				mu.Lock()
				settings = snap.Settings
				mu.Unlock()
				if string(snap.Phase) != lastPhase {
					lastPhase = string(snap.Phase)
					printSnapshot(snap)
				}
			case network.MsgTypeRankings:
				var msg models.RankingsMessage
				if json.Unmarshal(p.Data, &msg) == nil {
					printRankings(msg)
				}
			case network.MsgTypeLeaderboard:
				var msg models.LeaderboardMessage
				if json.Unmarshal(p.Data, &msg) == nil {
					printLeaderboard(msg)
				}
			case network.MsgTypeAddPlayer:
				var player game.Player
				if json.Unmarshal(p.Data, &player) == nil {
					pterm.Success.Printfln("Added %s (%s)", player.Name, player.ID)
				}
			case network.MsgTypeError:
				var resp network.ErrorResponse
				if json.Unmarshal(p.Data, &resp) == nil {
					pterm.Error.Printfln("request %d: %s", resp.Request, resp.Error)
				}
			case network.MsgTypeHeartbeat:
			default:
				pterm.Debug.Printfln("RECV (ID: %d): %s", p.MsgID, string(p.Data))
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.send(network.MsgTypeHeartbeat, nil); err != nil {
					return
				}
			}
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	pterm.Println(help)

	// Write loop
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			pterm.Info.Println("Interrupt received, closing connection.")
			closeConn(c, done)
			return
		case text, ok := <-lines:
			if !ok || text == "quit" {
				closeConn(c, done)
				return
			}
			mu.Lock()
			s := settings
			mu.Unlock()
			if err := dispatch(c, text, s); err != nil {
				pterm.Error.Println(err)
			}
		}
	}
}

func closeConn(c *conn, done <-chan struct{}) {
	c.mu.Lock()
	err := c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()
	if err != nil {
		pterm.Error.Println("Write close error:", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

func dispatch(c *conn, text string, settings game.Settings) error {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	switch fields[0] {
	case "add":
		return c.send(network.MsgTypeAddPlayer, network.AddPlayerRequest{Name: strings.Join(fields[1:], " ")})
	case "remove":
		return c.send(network.MsgTypeRemovePlayer, network.RemovePlayerRequest{ID: arg(1)})
	case "rounds":
		n, err := strconv.Atoi(arg(1))
		if err != nil {
			return fmt.Errorf("rounds: %w", err)
		}
		settings.Rounds = n
		return c.send(network.MsgTypeSettings, settings)
	case "hardcore":
		settings.Hardcore = arg(1) == "on"
		return c.send(network.MsgTypeSettings, settings)
	case "start":
		return c.send(network.MsgTypeStartGame, nil)
	case "hold":
		return c.send(network.MsgTypeHoldPress, nil)
	case "release":
		return c.send(network.MsgTypeHoldRelease, nil)
	case "done":
		ok, err := strconv.ParseBool(arg(1))
		if err != nil {
			return fmt.Errorf("done: %w", err)
		}
		secs, err := strconv.ParseFloat(arg(2), 64)
		if err != nil {
			return fmt.Errorf("done: %w", err)
		}
		return c.send(network.MsgTypeCompleteTurn, network.CompleteTurnRequest{Success: ok, HoldSeconds: secs})
	case "reset":
		return c.send(network.MsgTypeReset, nil)
	case "stop":
		return c.send(network.MsgTypeEmergencyStop, nil)
	case "light":
		pct, err := strconv.Atoi(arg(1))
		if err != nil {
			return fmt.Errorf("light: %w", err)
		}
		return c.send(network.MsgTypeBrightness, network.BrightnessRequest{Percent: pct})
	case "board":
		limit, _ := strconv.Atoi(arg(1))
		return c.send(network.MsgTypeLeaderboard, network.LeaderboardRequest{Limit: limit})
	default:
		pterm.Println(help)
		return nil
	}
}

func printSnapshot(snap game.Snapshot) {
	line := fmt.Sprintf("%s  round %d/%d  cycle %.1fs  %.1f°C", snap.Phase, snap.Round, snap.Rounds, snap.CycleDuration, snap.Device.Temperature)
	if snap.CurrentPlayer != nil {
		line += "  up: " + snap.CurrentPlayer.Name
	}
	if !snap.Device.Connected {
		line += "  " + pterm.LightRed("device offline")
	}
	pterm.Info.Println(line)
}

func printRankings(msg models.RankingsMessage) {
	data := pterm.TableData{{"#", "Player", "Points", "Per round"}}
	for _, r := range msg.Rankings {
		name := r.Name
		if r.Bot {
			name = pterm.FgDarkGray.Sprint(name)
		}
		data = append(data, []string{strconv.Itoa(r.Place), name, strconv.Itoa(r.Points), fmt.Sprintf("%.2f", r.Score)})
	}
	pterm.DefaultSection.Println("Final standings")
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func printLeaderboard(msg models.LeaderboardMessage) {
	data := pterm.TableData{{"#", "Player", "Per round", "Rounds", "Date"}}
	for i, e := range msg.Entries {
		data = append(data, []string{
			strconv.Itoa(i + 1), e.Name, fmt.Sprintf("%.2f", e.Score), strconv.Itoa(e.Rounds), e.UpdatedAt.Local().Format("2006-01-02"),
		})
	}
	pterm.DefaultSection.Println("Leaderboard")
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
