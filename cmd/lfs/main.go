package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"locutusfs/internal/config"
	"locutusfs/internal/lfs"
	"locutusfs/internal/lfssync"
	"locutusfs/internal/logging"
	"locutusfs/internal/mount"
	"locutusfs/internal/state"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"
)

var (
	logger = logging.GetLogger()
)

func main() {
	// Keep stdout for command output
	logger.SetOutput(os.Stderr)

	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		logger.Error("%v", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 1 when editing the layout can fix err (free space, pick
// another destination), 3 when the layout is corrupt and 2 otherwise.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case lfs.IsRecoverable(err):
		return 1
	case errors.Is(err, lfs.ErrCorruptFileSystem):
		return 3
	default:
		return 2
	}
}

// session is what every layout command works on
type session struct {
	cfg     *config.Config
	manager *state.Manager
	layout  *lfs.FileSystem
	out     io.Writer
}

func (s *session) save() error {
	if err := s.manager.Save(s.layout); err != nil {
		return fmt.Errorf("saving layout: %w", err)
	}
	return nil
}

func withLayout(out io.Writer, f func(*session, *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		if stateFile := ctx.String("state"); stateFile != "" {
			cfg.StateFile = stateFile
		}
		if level := ctx.String("log-level"); level != "" {
			cfg.LogLevel = level
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		logger.SetLevel(cfg.Level())

		manager, err := state.NewManager(cfg.StateFile, cfg.Limits(), cfg.BackupCount)
		if err != nil {
			return fmt.Errorf("opening layout: %w", err)
		}
		layout, err := manager.Load()
		if err != nil {
			return fmt.Errorf("loading layout: %w", err)
		}
		return f(&session{cfg: cfg, manager: manager, layout: layout, out: out}, ctx)
	}
}

func newApp(out io.Writer) *cli.App {
	indexFlag := &cli.IntFlag{
		Name:  "index",
		Usage: "position among the destination's children, -1 appends",
		Value: -1,
	}

	return &cli.App{
		Name:        "lfs",
		Usage:       "edit a Locutus menu layout and compare it with a device",
		Description: "every command loads the layout, applies one change and saves it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "state",
				Usage: "layout file; overrides LFS_STATE_FILE",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "ERROR, WARN, INFO, DEBUG or TRACE",
			},
		},
		Commands: []*cli.Command{{
			Name:        "format",
			Description: "replace the layout with an empty menu",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "force", Usage: "discard a non-empty layout"},
			},
			Action: withLayout(out, func(s *session, ctx *cli.Context) error {
				if s.layout.Root().Len() > 0 && !ctx.Bool("force") {
					return fmt.Errorf("layout is not empty; pass --force to discard it")
				}
				layout, err := lfs.New(lfs.OriginHostComputer, s.cfg.Limits())
				if err != nil {
					return err
				}
				s.layout = layout
				return s.save()
			}),
		}, {
			Name:        "ls",
			Aliases:     []string{"list", "tree"},
			Description: "print the menu tree",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "usage", Usage: "also print table occupancy"},
				&cli.StringFlag{Name: "unreferenced", Usage: "also list files below this ROM directory that no fork uses"},
			},
			Action: withLayout(out, func(s *session, ctx *cli.Context) error {
				printTree(s.out, s.layout)
				if ctx.Bool("usage") {
					printUsage(s.out, s.layout.Usage())
					fmt.Fprintf(s.out, "fork data    %d bytes\n", s.layout.EstimatedForkBytes())
				}
				if source := ctx.String("unreferenced"); source != "" {
					abs, err := filepath.Abs(source)
					if err != nil {
						return err
					}
					unreferenced := mount.NewSourceIndex(abs, s.layout).Unreferenced()
					fmt.Fprintf(s.out, "%d unreferenced in %s\n", len(unreferenced), abs)
					for _, sp := range unreferenced {
						fmt.Fprintf(s.out, "  %s\n", sp.String())
					}
				}
				return nil
			}),
		}, {
			Name:        "mkdir",
			ArgsUsage:   "PATH",
			Description: "create a directory; its parent must exist",
			Flags:       []cli.Flag{indexFlag},
			Action: withLayout(out, func(s *session, ctx *cli.Context) error {
				parentPath, name, err := splitLast(ctx.Args().First())
				if err != nil {
					return err
				}
				parent, err := lookupDirectory(s.layout, parentPath)
				if err != nil {
					return err
				}
				dir, err := s.layout.NewDirectory(name)
				if err != nil {
					return err
				}
				if err := insert(s.layout, parent, ctx.Int("index"), dir); err != nil {
					return err
				}
				return s.save()
			}),
		}, {
			Name:        "add",
			ArgsUsage:   "ROM DIRECTORY",
			Description: "add a ROM file to a directory",
			Flags: []cli.Flag{
				indexFlag,
				&cli.StringFlag{Name: "name", Usage: "long name; defaults to the ROM's base name"},
				&cli.StringFlag{Name: "short-name", Usage: "custom short name"},
				&cli.StringFlag{Name: "color", Usage: "menu color"},
				&cli.StringFlag{Name: "manual", Usage: "manual file attached as a fork"},
			},
			Action: withLayout(out, func(s *session, ctx *cli.Context) error {
				if ctx.NArg() != 2 {
					return fmt.Errorf("expected ROM and DIRECTORY arguments")
				}
				rom := ctx.Args().Get(0)
				parent, err := lookupDirectory(s.layout, splitPath(ctx.Args().Get(1)))
				if err != nil {
					return err
				}
				name := ctx.String("name")
				if name == "" {
					name = strings.TrimSuffix(filepath.Base(rom), filepath.Ext(rom))
				}
				file, err := s.layout.NewFile(name)
				if err != nil {
					return err
				}
				if err := applyNames(file, ctx.String("short-name"), ctx.String("color")); err != nil {
					return err
				}

				forks := map[lfs.ForkKind]string{lfs.ForkProgram: rom}
				if manual := ctx.String("manual"); manual != "" {
					forks[lfs.ForkManual] = manual
				}
				if err := s.layout.CanAcceptNewFile(parent.Number(), len(forks)); err != nil {
					return err
				}
				built := make(map[lfs.ForkKind]*lfs.Fork, len(forks))
				for kind, path := range forks {
					if built[kind], err = readFork(kind, path); err != nil {
						return err
					}
				}

				if err := insert(s.layout, parent, ctx.Int("index"), file); err != nil {
					return err
				}
				for _, kind := range lfs.ForkKinds() {
					if fork, ok := built[kind]; ok {
						if err := s.layout.SetFork(file.Number(), fork); err != nil {
							return err
						}
					}
				}
				return s.save()
			}),
		}, {
			Name:        "rm",
			Aliases:     []string{"remove"},
			ArgsUsage:   "PATH",
			Description: "remove an entry; directories go with their contents",
			Action: withLayout(out, func(s *session, ctx *cli.Context) error {
				entry, err := lookupEntry(s.layout, ctx.Args().First())
				if err != nil {
					return err
				}
				if err := s.layout.RemoveChild(entry.Parent(), entry.Ref()); err != nil {
					return err
				}
				return s.save()
			}),
		}, {
			Name:        "mv",
			Aliases:     []string{"move"},
			ArgsUsage:   "PATH DIRECTORY",
			Description: "move an entry to another directory or position",
			Flags:       []cli.Flag{indexFlag},
			Action: withLayout(out, func(s *session, ctx *cli.Context) error {
				if ctx.NArg() != 2 {
					return fmt.Errorf("expected PATH and DIRECTORY arguments")
				}
				entry, err := lookupEntry(s.layout, ctx.Args().Get(0))
				if err != nil {
					return err
				}
				dest, err := lookupDirectory(s.layout, splitPath(ctx.Args().Get(1)))
				if err != nil {
					return err
				}
				if err := s.layout.MoveChildToNewParent(entry.Ref(), dest.Number(), ctx.Int("index")); err != nil {
					return err
				}
				return s.save()
			}),
		}, {
			Name:        "rename",
			ArgsUsage:   "PATH [NEW-NAME]",
			Description: "change an entry's long name, short name or color",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "short-name", Usage: "custom short name"},
				&cli.StringFlag{Name: "color", Usage: "menu color"},
			},
			Action: withLayout(out, func(s *session, ctx *cli.Context) error {
				var entry lfs.Entry
				var err error
				if path := ctx.Args().First(); path == "" || path == "/" {
					entry = s.layout.Root()
				} else if entry, err = lookupEntry(s.layout, path); err != nil {
					return err
				}
				editor := entry.(nameEditor)
				if newName := ctx.Args().Get(1); newName != "" {
					if err := editor.SetLongName(newName); err != nil {
						return err
					}
				}
				if err := applyNames(editor, ctx.String("short-name"), ctx.String("color")); err != nil {
					return err
				}
				return s.save()
			}),
		}, {
			Name:        "validate",
			Aliases:     []string{"check"},
			Description: "check the layout's tables and report orphaned entries",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "clean", Usage: "free orphaned entries"},
			},
			Action: withLayout(out, func(s *session, ctx *cli.Context) error {
				report, err := lfs.Validate(s.layout)
				if err != nil {
					return err
				}
				if report.Empty() {
					fmt.Fprintln(s.out, "layout is consistent")
					return nil
				}
				printOrphans(s.out, s.layout, report)
				if !ctx.Bool("clean") {
					return nil
				}
				released, err := s.layout.CleanupInvalidEntries(report)
				if err != nil {
					return err
				}
				fmt.Fprintf(s.out, "released %d slots\n", released)
				return s.save()
			}),
		}, {
			Name:        "diff",
			ArgsUsage:   "DEVICE-LAYOUT",
			Description: "compare the layout with a device image",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "direction", Usage: "to-device or from-device", Value: lfssync.ToDevice.String()},
				&cli.StringFlag{Name: "keying", Usage: "number or path; defaults to LFS_KEYING"},
				&cli.StringFlag{Name: "format", Usage: "yaml or json", Value: "yaml"},
				&cli.BoolFlag{Name: "simple", Usage: "only report whether a sync is needed"},
			},
			Action: withLayout(out, func(s *session, ctx *cli.Context) error {
				device, err := state.ReadLayout(ctx.Args().First())
				if err != nil {
					return err
				}
				direction, err := lfssync.ParseDirection(ctx.String("direction"))
				if err != nil {
					return err
				}
				keying := s.cfg.DiffKeying()
				if k := ctx.String("keying"); k != "" {
					if keying, err = parseKeying(k); err != nil {
						return err
					}
				}

				if ctx.Bool("simple") {
					result := lfssync.NeedsSync(s.layout, device, keying)
					fmt.Fprintln(s.out, result)
					if result == lfs.CompareError {
						return fmt.Errorf("layouts could not be compared")
					}
					return nil
				}

				plan, err := lfssync.NewPlan(s.layout, device, direction, keying)
				if err != nil {
					return err
				}
				return writeFormatted(s.out, ctx.String("format"), plan)
			}),
		}, {
			Name:        "export",
			ArgsUsage:   "FILE",
			Description: "write a copy of the layout; .yaml and .yml files are written as YAML",
			Action: withLayout(out, func(s *session, ctx *cli.Context) error {
				if ctx.Args().First() == "" {
					return fmt.Errorf("expected FILE argument")
				}
				return state.WriteLayout(ctx.Args().First(), s.layout)
			}),
		}, {
			Name:        "mount",
			ArgsUsage:   "[MOUNTPOINT]",
			Description: "serve the layout as a file system until interrupted",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "source", Usage: "ROM directory offered under " + mount.UnsortedName},
			},
			Action: withLayout(out, func(s *session, ctx *cli.Context) error {
				mountPoint := ctx.Args().First()
				if mountPoint == "" {
					mountPoint = s.cfg.MountPoint
				}
				if mountPoint == "" {
					return fmt.Errorf("mount point is required")
				}
				return serve(s, filepath.Clean(mountPoint), ctx.String("source"))
			}),
		}},
	}
}

func serve(s *session, mountPoint, source string) error {
	logger.Info("Creating layout filesystem...")
	vfs, err := mount.NewLayoutFS(source, s.layout, s.manager)
	if err != nil {
		return fmt.Errorf("creating filesystem: %w", err)
	}
	vfs.OnChange(func(status lfs.DirtyFlags) {
		logger.Debug("Layout changed; unsynced tables: %s", status)
	})

	logger.Debug("Setting up signal handlers...")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Mounting filesystem at %s...", mountPoint)
	if err := vfs.Mount(mountPoint, s.cfg.AllowOther); err != nil {
		return err
	}
	logger.Info("Filesystem mounted and ready")

	if err := vfs.Wait(ctx, mountPoint); err != nil {
		return fmt.Errorf("unmounting: %w", err)
	}
	logger.Info("Clean shutdown complete")
	return nil
}

// nameEditor is satisfied by both entry kinds
type nameEditor interface {
	SetLongName(name string) error
	SetShortName(name string) error
	SetColor(c lfs.Color)
}

func applyNames(e nameEditor, shortName, color string) error {
	if shortName != "" {
		if err := e.SetShortName(shortName); err != nil {
			return err
		}
	}
	if color != "" {
		c, err := lfs.ParseColor(color)
		if err != nil {
			return err
		}
		e.SetColor(c)
	}
	return nil
}

func readFork(kind lfs.ForkKind, path string) (*lfs.Fork, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("opening %s fork: %w", kind, err)
	}
	defer f.Close()

	crc, size, err := lfs.ComputeCrc24(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s fork: %w", kind, err)
	}
	return lfs.NewFork(kind, crc, abs, size), nil
}

func insert(layout *lfs.FileSystem, parent *lfs.Directory, index int, entry lfs.Entry) error {
	if index < 0 {
		return layout.AddChild(parent.Number(), entry)
	}
	return layout.InsertChild(parent.Number(), index, entry)
}

func parseKeying(name string) (lfs.Keying, error) {
	var k lfs.Keying
	err := k.UnmarshalText([]byte(name))
	return k, err
}

func writeFormatted(out io.Writer, format string, v interface{}) error {
	var data []byte
	var err error
	switch format {
	case "yaml":
		data, err = yaml.Marshal(v)
	case "json":
		data, err = json.MarshalIndent(v, "", "  ")
		data = append(data, '\n')
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return fmt.Errorf("marshaling output: %w", err)
	}
	if _, err := out.Write(data); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}
