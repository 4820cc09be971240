package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/sketchsync/sketch/board"
)

const BoardCtlVersion = "0.0.1"

func main() {
	usage := fmt.Sprintf(
		`Board control.

The default urls are:
    api_url: %s
    relay_url: %s
The default config is %s

Usage:
    boardctl login [--config=<config>] [--api_url=<api_url>] --email=<email> [--password=<password>]
    boardctl register [--config=<config>] [--api_url=<api_url>] --email=<email> [--password=<password>]
    boardctl boards [--config=<config>] [--api_url=<api_url>] --jwt=<jwt>
    boardctl create [--config=<config>] [--api_url=<api_url>] --jwt=<jwt> [--name=<name>]
    boardctl rename [--config=<config>] [--api_url=<api_url>] --jwt=<jwt> <board_id> <name>
    boardctl share [--config=<config>] [--api_url=<api_url>] --jwt=<jwt> <board_id> (--public | --private)
    boardctl invite [--config=<config>] [--api_url=<api_url>] --jwt=<jwt> <board_id> --email=<email>
    boardctl delete [--config=<config>] [--api_url=<api_url>] --jwt=<jwt> <board_id>
    boardctl recent [--config=<config>]
    boardctl forget [--config=<config>] <board_id>
    boardctl open [--config=<config>] [--relay_url=<relay_url>] [--jwt=<jwt>] [--offline] <board_id>
    boardctl dump [--config=<config>] <board_id>
    boardctl classify --points=<points>
    boardctl init-config [--config=<config>]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --config=<config>          Config file.
    --api_url=<api_url>
    --relay_url=<relay_url>
    --email=<email>
    --password=<password>
    --jwt=<jwt>                Login token.
    --name=<name>              Board name.
    --public                   Anyone with the link can view.
    --private                  Only the owner and invited users.
    --offline                  Do not connect to the relay.
    --points=<points>          Comma separated x,y coordinates of a freehand path.`,
		board.DefaultApiUrl,
		board.DefaultRelayUrl,
		defaultConfigPath(),
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], BoardCtlVersion)
	if err != nil {
		panic(err)
	}

	if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if register_, _ := opts.Bool("register"); register_ {
		register(opts)
	} else if boards_, _ := opts.Bool("boards"); boards_ {
		boards(opts)
	} else if create_, _ := opts.Bool("create"); create_ {
		create(opts)
	} else if rename_, _ := opts.Bool("rename"); rename_ {
		rename(opts)
	} else if share_, _ := opts.Bool("share"); share_ {
		share(opts)
	} else if invite_, _ := opts.Bool("invite"); invite_ {
		invite(opts)
	} else if delete_, _ := opts.Bool("delete"); delete_ {
		deleteBoard(opts)
	} else if recent_, _ := opts.Bool("recent"); recent_ {
		recent(opts)
	} else if forget_, _ := opts.Bool("forget"); forget_ {
		forget(opts)
	} else if open_, _ := opts.Bool("open"); open_ {
		open(opts)
	} else if dump_, _ := opts.Bool("dump"); dump_ {
		dump(opts)
	} else if classify_, _ := opts.Bool("classify"); classify_ {
		classify(opts)
	} else if initConfig_, _ := opts.Bool("init-config"); initConfig_ {
		initConfig(opts)
	}
}

func defaultConfigPath() string {
	return filepath.Join(board.DefaultDataDir(), "config.toml")
}

func configPath(opts docopt.Opts) string {
	if configPath, err := opts.String("--config"); err == nil {
		return configPath
	}
	return defaultConfigPath()
}

func loadConfig(opts docopt.Opts) *board.Config {
	config, err := board.LoadConfig(configPath(opts))
	if err != nil {
		panic(err)
	}
	if apiUrl, err := opts.String("--api_url"); err == nil {
		config.ApiUrl = apiUrl
	}
	if relayUrl, err := opts.String("--relay_url"); err == nil {
		config.RelayUrl = relayUrl
	}
	if config.AppVersion == "" {
		config.AppVersion = fmt.Sprintf("boardctl %s", BoardCtlVersion)
	}
	return config
}

func printJson(value any) {
	valueJson, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		panic(err)
	}
	fmt.Printf("%s\n", valueJson)
}

func boardApi(opts docopt.Opts) *board.BoardApi {
	config := loadConfig(opts)
	api := board.NewBoardApi(config.ApiUrl)
	if jwt, err := opts.String("--jwt"); err == nil {
		api.SetJwt(jwt)
	}
	return api
}

func loginArgs(opts docopt.Opts) *board.LoginArgs {
	email, _ := opts.String("--email")

	var password string
	if password_, err := opts.String("--password"); err == nil {
		password = password_
	} else {
		fmt.Print("Enter password: ")
		passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			panic(err)
		}
		password = string(passwordBytes)
		fmt.Printf("\n")
	}

	return &board.LoginArgs{
		Email:    email,
		Password: password,
	}
}

func login(opts docopt.Opts) {
	api := boardApi(opts)
	defer api.Close()

	result, err := api.LoginSync(loginArgs(opts))
	if err != nil {
		fmt.Printf("Login error (%s).\n", err)
		os.Exit(1)
	}
	boardJwt, err := board.ParseBoardJwtUnverified(result.Token)
	if err != nil {
		fmt.Printf("Login returned an invalid token (%s).\n", err)
		os.Exit(1)
	}
	fmt.Printf("user_id: %s\n", boardJwt.UserId)
	fmt.Printf("email: %s\n", boardJwt.Email)
	fmt.Printf("jwt: %s\n", result.Token)
}

func register(opts docopt.Opts) {
	api := boardApi(opts)
	defer api.Close()

	result, err := api.RegisterSync(loginArgs(opts))
	if err != nil {
		fmt.Printf("Register error (%s).\n", err)
		os.Exit(1)
	}
	printJson(result)
}

func boards(opts docopt.Opts) {
	api := boardApi(opts)
	defer api.Close()

	boardInfos, err := api.ListBoardsSync()
	if err != nil {
		fmt.Printf("List error (%s).\n", err)
		os.Exit(1)
	}
	for _, boardInfo := range boardInfos {
		visibility := "private"
		if boardInfo.IsPublic {
			visibility = "public"
		}
		fmt.Printf("%s %s %q %s\n", boardInfo.Id, visibility, boardInfo.Name, boardInfo.OwnerEmail)
	}
}

func create(opts docopt.Opts) {
	api := boardApi(opts)
	defer api.Close()

	name, _ := opts.String("--name")
	boardInfo, err := api.CreateBoardSync(&board.CreateBoardArgs{
		Name: name,
	})
	if err != nil {
		fmt.Printf("Create error (%s).\n", err)
		os.Exit(1)
	}
	printJson(boardInfo)
}

func rename(opts docopt.Opts) {
	api := boardApi(opts)
	defer api.Close()

	boardId, _ := opts.String("<board_id>")
	name, _ := opts.String("<name>")
	boardInfo, err := api.RenameBoardSync(boardId, &board.RenameBoardArgs{
		Name: name,
	})
	if err != nil {
		fmt.Printf("Rename error (%s).\n", err)
		os.Exit(1)
	}
	printJson(boardInfo)
}

func share(opts docopt.Opts) {
	api := boardApi(opts)
	defer api.Close()

	boardId, _ := opts.String("<board_id>")
	isPublic, _ := opts.Bool("--public")
	boardInfo, err := api.ShareBoardSync(boardId, &board.ShareBoardArgs{
		IsPublic: isPublic,
	})
	if err != nil {
		fmt.Printf("Share error (%s).\n", err)
		os.Exit(1)
	}
	printJson(boardInfo)
}

func invite(opts docopt.Opts) {
	api := boardApi(opts)
	defer api.Close()

	boardId, _ := opts.String("<board_id>")
	email, _ := opts.String("--email")
	result, err := api.InviteBoardSync(boardId, &board.InviteBoardArgs{
		Email: email,
	})
	if err != nil {
		fmt.Printf("Invite error (%s).\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s\n", result.Message)
}

func deleteBoard(opts docopt.Opts) {
	api := boardApi(opts)
	defer api.Close()

	boardId, _ := opts.String("<board_id>")
	if _, err := api.DeleteBoardSync(boardId); err != nil {
		fmt.Printf("Delete error (%s).\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %s.\n", boardId)
}

func openIndex(config *board.Config) *board.LocalIndex {
	index, err := board.OpenLocalIndex(config.DataDir, config.LocalIndexSettings())
	if err != nil {
		fmt.Printf("Could not open the local index in %s (%s).\n", config.DataDir, err)
		os.Exit(1)
	}
	return index
}

func recent(opts docopt.Opts) {
	config := loadConfig(opts)
	index := openIndex(config)
	defer index.Close()

	boardMetas, err := index.Boards()
	if err != nil {
		panic(err)
	}
	for _, boardMeta := range boardMetas {
		fmt.Printf(
			"%s %q %s\n",
			boardMeta.Id,
			boardMeta.Name,
			boardMeta.LastVisited.Format(time.RFC3339),
		)
	}
}

func forget(opts docopt.Opts) {
	config := loadConfig(opts)
	index := openIndex(config)
	defer index.Close()

	boardId, _ := opts.String("<board_id>")
	if err := index.Remove(boardId); err != nil {
		fmt.Printf("Forget error (%s).\n", err)
		os.Exit(1)
	}
}

// open joins the board headless and prints the sync status and who is here
// until interrupted
func open(opts docopt.Opts) {
	config := loadConfig(opts)
	index := openIndex(config)
	defer index.Close()

	boardId, _ := opts.String("<board_id>")
	jwt, _ := opts.String("--jwt")
	offline, _ := opts.Bool("--offline")

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	event := board.NewEventWithContext(cancelCtx)
	event.SetOnSignals(syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	ctx := event.Ctx()

	session, err := board.OpenSession(ctx, boardId, index, &board.SessionOptions{
		Config:  config,
		Token:   jwt,
		Offline: offline,
	})
	if err != nil {
		fmt.Printf("Open error (%s).\n", err)
		os.Exit(1)
	}
	defer session.Close()

	fmt.Printf("board_id: %s\n", session.BoardId())
	fmt.Printf("client_id: %s\n", session.ClientId())
	fmt.Printf("identity: %s %s\n", session.Identity().Name, session.Identity().Color)

	session.AddStatusCallback(func(status board.SyncStatus) {
		fmt.Printf("status: %s\n", status)
	})
	session.Presence().Subscribe(func(states map[board.Id]*board.PresenceState) {
		names := []string{}
		for _, activeUser := range session.ActiveUsers() {
			names = append(names, activeUser.Name)
		}
		fmt.Printf("users: %s\n", strings.Join(names, ", "))
	})
	session.Doc().AddObserver(func(event *board.DocEvent) {
		fmt.Printf("changes: %d (%s)\n", len(event.Changes), event.Origin)
	})

	select {
	case <-ctx.Done():
	case <-session.Done():
	}
}

// dump prints the locally cached shapes of a board
func dump(opts docopt.Opts) {
	config := loadConfig(opts)
	index := openIndex(config)
	defer index.Close()

	boardId, _ := opts.String("<board_id>")

	session, err := board.OpenSession(context.Background(), boardId, index, &board.SessionOptions{
		Config:  config,
		Offline: true,
	})
	if err != nil {
		fmt.Printf("Open error (%s).\n", err)
		os.Exit(1)
	}
	defer session.Close()

	select {
	case <-session.Synced():
	case <-time.After(5 * time.Second):
		fmt.Printf("Cache load timeout.\n")
		os.Exit(1)
	}
	printJson(session.Doc().GetAll())
}

func classify(opts docopt.Opts) {
	pointsStr, _ := opts.String("--points")

	coords := []float64{}
	for _, coordStr := range strings.Split(pointsStr, ",") {
		coord, err := strconv.ParseFloat(strings.TrimSpace(coordStr), 64)
		if err != nil {
			fmt.Printf("Invalid coordinate %q (%s).\n", coordStr, err)
			os.Exit(1)
		}
		coords = append(coords, coord)
	}

	shape, classification := board.Recognize(board.NewShapeId(), coords, board.DefaultToolOptions())
	if classification == nil {
		fmt.Printf("No match. Kept as a stroke.\n")
	} else {
		fmt.Printf("class: %s\n", classification.Class)
		printJson(classification.Stats)
	}
	printJson(shape)
}

func initConfig(opts docopt.Opts) {
	path := configPath(opts)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config %s already exists.\n", path)
		os.Exit(1)
	}
	if err := board.DefaultConfig().Save(path); err != nil {
		fmt.Printf("Save error (%s).\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s.\n", path)
}
