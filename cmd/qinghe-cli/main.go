package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/lisuiheng/qinghe-go/audio"
	"github.com/lisuiheng/qinghe-go/audio/ambient"
	"github.com/lisuiheng/qinghe-go/audio/noise"
	"github.com/lisuiheng/qinghe-go/core"
	"github.com/lisuiheng/qinghe-go/logger"
	"github.com/lisuiheng/qinghe-go/session"
)

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

type app struct {
	arbiter *session.Arbiter
	ambient *ambient.Player
	sleep   *core.SleepRecorder
}

func main() {
	configPath := flag.String("config", "", "Path to config file")
	command := flag.String("cmd", "", "Command to execute (status, ambient start, ...)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg, _, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 交互模式下默认只输出警告，避免打断提示符
	logCfg := logger.Config{Level: "warn", Outputs: []string{"stderr"}}
	if *debug {
		logCfg.Level = "debug"
	}
	if err := logger.Init(logCfg); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	a, cleanup, err := newApp(cfg)
	if err != nil {
		logger.Error("Failed to start", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// 指定了命令就只执行一次
	if *command != "" {
		a.execute(strings.Fields(*command))
		return
	}
	a.interactive()
}

func newApp(cfg core.Config) (*app, func(), error) {
	log := logger.Logger()
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	device := audio.NewMalgoDevice(cfg.Audio.SampleRate, cfg.Audio.Channels, log)
	closers = append(closers, func() { _ = device.Close() })

	c, err := noise.ParseColor(cfg.Ambient.Color)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	sink, err := audio.NewPCMPlayer(cfg.Audio.SampleRate, cfg.Audio.FrameDuration, cfg.Audio.Channels, log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, func() { _ = sink.Close() })

	player, err := ambient.NewPlayer(ambient.Config{
		SampleRate:    cfg.Audio.SampleRate,
		Channels:      cfg.Audio.Channels,
		FrameDuration: cfg.Audio.FrameDuration,
		Color:         c,
		Volume:        cfg.Ambient.Volume,
		Seed:          uint64(time.Now().UnixNano()),
	}, sink, log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, player.Close)

	bus := session.NewBus()
	arbiter, err := session.NewArbiter(device, player, log, session.WithObserver(bus))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, arbiter.Close)
	player.Attach(arbiter)
	go printTransitions(bus.Subscribe("cli"))

	rec, err := audio.NewPCMRecorder(audio.Config{
		SampleRate:    cfg.Recording.SampleRate,
		Channels:      cfg.Recording.Channels,
		FrameDuration: 100,
	}, log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	sleep, err := core.NewSleepRecorder(cfg.Recording, arbiter, rec, log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, func() { _ = sleep.Close() })

	return &app{arbiter: arbiter, ambient: player, sleep: sleep}, cleanup, nil
}

func printTransitions(ch <-chan session.Transition) {
	for t := range ch {
		if !t.Changed() {
			continue
		}
		fmt.Printf("\n%s %s -> %s (%s)\n", yellow("session"), t.From, t.To, t.Op)
	}
}

func (a *app) interactive() {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("\n%s ", blue("qinghe-cli>"))
		input, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(input)
		if len(fields) == 0 {
			continue
		}
		if !a.execute(fields) {
			return
		}
	}
}

// execute 执行一条命令，返回 false 表示退出
func (a *app) execute(fields []string) bool {
	cmd := fields[0]
	var arg string
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd {
	case "ambient":
		a.ambientCommand(arg, fields[min(2, len(fields)):])
	case "voice":
		switch arg {
		case "begin":
			printResult(a.arbiter.BeginVoiceMessage())
		case "end":
			printResult(a.arbiter.EndVoiceMessage())
		default:
			fail(fmt.Errorf("usage: voice begin|end"))
		}
	case "record":
		switch arg {
		case "begin":
			if id, err := a.sleep.Start(); err != nil {
				fail(err)
			} else {
				ok("Recording %s", id)
			}
		case "end":
			if rec, err := a.sleep.Stop(); err != nil {
				fail(err)
			} else {
				ok("Saved %s (%s)", rec.Path, rec.Duration.Round(time.Second))
			}
		default:
			fail(fmt.Errorf("usage: record begin|end"))
		}
	case "status":
		snap := a.arbiter.Snapshot()
		fmt.Println("\nCurrent Status:")
		fmt.Printf("  Role: %s\n", snap.Role)
		fmt.Printf("  Ambient playing: %t (wanted: %t, volume: %.2f)\n",
			a.ambient.IsPlaying(), a.ambient.Wanted(), a.ambient.Volume())
		fmt.Printf("  Resume after voice message: %t\n", snap.AmbientWasPlayingBeforeVoiceMessage)
		fmt.Printf("  Resume after recording: %t\n", snap.AmbientWasPlayingBeforeRecording)
		fmt.Printf("  Sleep recording: %t\n", a.sleep.Active())
	case "exit", "quit":
		fmt.Println("Exiting...")
		return false
	case "help":
		printHelp()
	default:
		fail(fmt.Errorf("unknown command: %s", cmd))
		printHelp()
	}
	return true
}

func (a *app) ambientCommand(sub string, args []string) {
	switch sub {
	case "start":
		if err := a.ambient.Start(); err != nil {
			fail(err)
			return
		}
		ok("Ambient playback requested (playing: %t)", a.ambient.IsPlaying())
	case "stop":
		a.ambient.Stop()
		ok("Ambient playback stopped")
	case "volume":
		if len(args) == 0 {
			fail(fmt.Errorf("usage: ambient volume <0..1>"))
			return
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			fail(err)
			return
		}
		a.ambient.SetVolume(v)
		ok("Volume %.2f", a.ambient.Volume())
	default:
		fail(fmt.Errorf("usage: ambient start|stop|volume <v>"))
	}
}

func printResult(res session.Result) {
	if res.OK() {
		ok("%s: %s, role %s", res.Op, res.Outcome, res.Role)
		return
	}
	fmt.Printf("%s %s: %s, role %s: %v\n", red("✗"), res.Op, res.Outcome, res.Role, res.Err)
}

func ok(format string, args ...any) {
	fmt.Printf("%s %s\n", green("✓"), fmt.Sprintf(format, args...))
}

func fail(err error) {
	fmt.Printf("%s Error: %v\n", red("✗"), err)
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  ambient start|stop    - Start or stop ambient noise")
	fmt.Println("  ambient volume <v>    - Set ambient volume (0..1)")
	fmt.Println("  voice begin|end       - Claim or release the session for a voice message")
	fmt.Println("  record begin|end      - Start or stop a sleep recording")
	fmt.Println("  status                - Show current status")
	fmt.Println("  exit/quit             - Exit the program")
	fmt.Println("  help                  - Show this help message")
}
