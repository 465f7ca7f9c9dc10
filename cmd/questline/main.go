package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"questline/internal/app"
	"questline/internal/combat"
	"questline/internal/config"
	"questline/internal/db"
	"questline/internal/domain"
	"questline/internal/engine"
	"questline/internal/engine/auth"
	"questline/internal/logger"
	"questline/internal/migrate"
	"questline/internal/repo"
	"questline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "questline",
	Short: "Questline encounter engine",
	Long: `Questline runs turn-based combat encounters for a wellness RPG.
- Workspace: the .questline directory holding the encounter database; rules live in questline.yml next to it.
- Encounter: one fight between an actor and a roster of enemies. It starts pending, becomes active once the actor rolls initiative, and ends in victory, defeat or fled.
- Version: every accepted change bumps it; pass the version you last saw with each turn.
- Conditions: buffs and debuffs from the actor's health data, counted down once per round.
- Log: every accepted change, view with 'questline encounter log'.`,
	SilenceUsage: true,
}

func main() {
	// A .env in the working directory seeds QUESTLINE_* for local runs.
	_ = godotenv.Load()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", describeError(err))
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("QUESTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(encounterCmd())
	rootCmd.AddCommand(conditionCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.LoadEnv()
			if err != nil {
				return err
			}
			if env.JWTSecret == "" && !env.AllowActorHeader {
				return fmt.Errorf("QUESTLINE_JWT_SECRET is required for bearer auth")
			}
			log := logger.New(env.LogLevel, env.LogFormat)
			ctx := cmd.Context()
			ws, err := app.Open(ctx, viper.GetString("workspace"), log)
			if err != nil {
				return err
			}
			defer ws.Close()
			if err := ws.Configure(ctx, env); err != nil {
				return err
			}
			handler, err := server.New(server.Config{Engine: ws.Engine, BasePath: basePath, Auth: server.AuthConfig{
				JWTSecret:              env.JWTSecret,
				AllowLegacyActorHeader: env.AllowActorHeader,
				Logger:                 log,
			}})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(ctx, ws.Engine.Repo, ws.Config.Webhooks, log)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			log.WithFields(logrus.Fields{
				"addr":      addr,
				"base_path": basePath,
				"narrator":  env.Narrator,
				"webhooks":  len(ws.Config.Webhooks),
			}).Info("serving questline API (OpenAPI at openapi.json, Swagger UI at /docs)")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runMigrate(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(report)
		},
	}
}

type migrateReport struct {
	Database      string `json:"database"`
	Applied       int    `json:"applied"`
	SchemaVersion int    `json:"schema_version"`
}

func runMigrate(ctx context.Context, workspace string) (migrateReport, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return migrateReport{}, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return migrateReport{}, err
	}
	defer conn.Close()
	before, err := migrate.Current(ctx, conn)
	if err != nil {
		return migrateReport{}, err
	}
	current, err := migrate.Migrate(ctx, conn)
	if err != nil {
		return migrateReport{}, err
	}
	return migrateReport{Database: db.Path(workspace), Applied: current - before, SchemaVersion: current}, nil
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage the rules file",
		Long:  "questline.yml is the rulebook: the weapon catalog, starting zones, the defend bonus, narration timeout and outbound webhooks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default questline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			return yaml.NewEncoder(os.Stdout).Encode(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate questline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func encounterCmd() *cobra.Command {
	enc := &cobra.Command{
		Use:   "encounter",
		Short: "Run encounters",
		Long:  "Create an encounter from a roster file, roll initiative, then take one action per turn. Enemies act on their own between your turns.",
	}
	enc.AddCommand(encounterCreateCmd())
	enc.AddCommand(encounterShowCmd())
	enc.AddCommand(encounterActiveCmd())
	enc.AddCommand(encounterListCmd())
	enc.AddCommand(encounterInitiativeCmd())
	enc.AddCommand(encounterActCmd())
	enc.AddCommand(encounterLogCmd())
	return enc
}

// roster is the YAML shape accepted by encounter create.
type roster struct {
	ActorID       string         `yaml:"actor_id"`
	OriginQuestID string         `yaml:"origin_quest_id"`
	Actor         combat.Sheet   `yaml:"actor"`
	Enemies       []combat.Sheet `yaml:"enemies"`
}

func readRoster(path string) (roster, error) {
	var r roster
	data, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("parse roster %s: %w", path, err)
	}
	return r, nil
}

func encounterCreateCmd() *cobra.Command {
	var file, id string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start an encounter from a roster file",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := readRoster(file)
			if err != nil {
				return err
			}
			if r.ActorID == "" {
				r.ActorID = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				enc, err := e.CreateEncounter(ctx, engine.CreateEncounterOptions{
					ID:            id,
					ActorID:       r.ActorID,
					OriginQuestID: r.OriginQuestID,
					Actor:         r.Actor,
					Enemies:       r.Enemies,
					Caller:        localCaller(),
				})
				if err != nil {
					return err
				}
				return printEncounter(enc)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "roster YAML file")
	cmd.Flags().StringVar(&id, "id", "", "encounter id (generated when empty)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func encounterShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <encounter-id>",
		Short: "Show an encounter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				enc, err := e.GetEncounter(ctx, localCaller(), args[0])
				if err != nil {
					return err
				}
				return printEncounter(enc)
			})
		},
	}
}

func encounterActiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "Show the actor's pending or active encounter",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				enc, mods, err := e.ActiveCombat(ctx, localCaller(), actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"encounter": enc, "modifiers": mods})
				}
				if enc == nil {
					fmt.Printf("%s is not in combat\n", actorID)
					return nil
				}
				return printEncounter(*enc)
			})
		},
	}
}

func encounterListCmd() *cobra.Command {
	var f repo.EncounterFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List encounters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListEncounters(ctx, localCaller(), f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Status", "Round", "Version", "Updated"})
				for _, enc := range items {
					tw.AppendRow(table.Row{enc.ID, enc.ActorID, enc.Status, enc.Round, enc.Version, enc.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ActorID, "actor", "", "actor filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func encounterInitiativeCmd() *cobra.Command {
	var version int64
	var roll int
	cmd := &cobra.Command{
		Use:   "initiative <encounter-id>",
		Short: "Submit the actor's d20 initiative roll",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tr, err := e.SubmitInitiative(ctx, localCaller(), args[0], version, roll)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tr)
				}
				printResult(tr.Result)
				return printEncounter(tr.Encounter)
			})
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "encounter version you last saw")
	cmd.Flags().IntVar(&roll, "roll", 0, "d20 result (1-20)")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("roll")
	return cmd
}

func encounterActCmd() *cobra.Command {
	var (
		version                        int64
		kind, zone, text, weapon       string
		target, attackRoll, damageRoll int
	)
	cmd := &cobra.Command{
		Use:   "act <encounter-id>",
		Short: "Take the actor's turn",
		Long:  "Kinds: attack, move, defend, custom, flee. An attack without --attack-roll asks for one; a hit without --damage-roll asks for that next.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.ActionRequest{
				EncounterID:     args[0],
				ExpectedVersion: version,
				Kind:            domain.ActionKind(kind),
			}
			flags := cmd.Flags()
			if flags.Changed("zone") {
				z := domain.Zone(zone)
				req.TargetZone = &z
			}
			if flags.Changed("text") {
				req.RawText = &text
			}
			if flags.Changed("weapon") {
				req.Weapon = &weapon
			}
			if flags.Changed("target") {
				req.Target = &target
			}
			if flags.Changed("attack-roll") {
				req.AttackRoll = &attackRoll
			}
			if flags.Changed("damage-roll") {
				req.DamageRoll = &damageRoll
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tr, err := e.SubmitAction(ctx, localCaller(), req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tr.Result)
				}
				printResult(tr.Result)
				return printEncounter(tr.Encounter)
			})
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "encounter version you last saw")
	cmd.Flags().StringVar(&kind, "kind", "", "attack, move, defend, custom or flee")
	cmd.Flags().StringVar(&zone, "zone", "", "target zone for move (melee, near, far)")
	cmd.Flags().StringVar(&text, "text", "", "free text for custom actions")
	cmd.Flags().StringVar(&weapon, "weapon", "", "weapon name")
	cmd.Flags().IntVar(&target, "target", 0, "initiative index of the target")
	cmd.Flags().IntVar(&attackRoll, "attack-roll", 0, "d20 attack roll")
	cmd.Flags().IntVar(&damageRoll, "damage-roll", 0, "damage die roll")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func encounterLogCmd() *cobra.Command {
	var n int
	var cursor int64
	cmd := &cobra.Command{
		Use:   "log <encounter-id>",
		Short: "Show the action log of an encounter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.EncounterLog(ctx, localCaller(), args[0], cursor, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Version", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.Version, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 50, "number of events")
	cmd.Flags().Int64Var(&cursor, "cursor", 0, "show events after this id")
	return cmd
}

func conditionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "condition",
		Short: "Manage the actor's conditions",
		Long:  "Conditions come from the actor's health data. Open encounters pick up changes at their next round.",
	}
	c.AddCommand(conditionSetCmd())
	c.AddCommand(conditionListCmd())
	c.AddCommand(conditionModifiersCmd())
	return c
}

func conditionSetCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace conditions from a YAML list",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var conds []domain.Condition
			if err := yaml.Unmarshal(data, &conds); err != nil {
				return fmt.Errorf("parse conditions %s: %w", file, err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.ReplaceConditions(ctx, localCaller(), viper.GetString("actor-id"), conds)
				if err != nil {
					return err
				}
				return printConditions(out)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "conditions YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func conditionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active conditions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.ActorConditions(ctx, localCaller(), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printConditions(out)
			})
		},
	}
}

func conditionModifiersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modifiers",
		Short: "Show summed stat modifiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				mods, err := e.Modifiers(ctx, localCaller(), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(mods)
			})
		},
	}
}

func localCaller() auth.Caller {
	return auth.Local(viper.GetString("actor-id"))
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	log := logger.New(env.LogLevel, env.LogFormat)
	ws, err := app.Open(ctx, viper.GetString("workspace"), log)
	if err != nil {
		return err
	}
	defer ws.Close()
	if err := ws.Configure(ctx, env); err != nil {
		return err
	}
	return fn(ctx, ws.Engine)
}

func printEncounter(enc domain.Encounter) error {
	if viper.GetBool("json") {
		return printJSON(enc)
	}
	fmt.Printf("encounter %s  actor=%s  status=%s  round=%d  version=%d\n", enc.ID, enc.ActorID, enc.Status, enc.Round, enc.Version)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"", "#", "Name", "Side", "HP", "AC", "Zone", "Init", "Weapon"})
	for i, c := range enc.InitiativeOrder {
		marker := ""
		if enc.Status == domain.StatusActive && i == enc.TurnCursor {
			marker = ">"
		}
		score := "-"
		if c.InitiativeScore != nil {
			score = fmt.Sprint(*c.InitiativeScore)
		} else if c.NeedsRoll {
			score = "roll"
		}
		tw.AppendRow(table.Row{marker, i, c.Name, c.Side, fmt.Sprintf("%d/%d", c.HP, c.MaxHP), c.ArmorClass, c.Zone, score, c.Weapon})
	}
	tw.Render()
	if len(enc.Conditions) > 0 {
		return printConditions(enc.Conditions)
	}
	return nil
}

func printResult(res domain.ActionResult) {
	for _, h := range res.NarrativeHooks {
		b, _ := json.Marshal(h)
		fmt.Println(" ", string(b))
	}
	if res.Narration != "" {
		fmt.Println(res.Narration)
	}
	if res.AwaitingRoll != nil {
		fmt.Printf("roll a d%d for %s\n", res.AwaitingRoll.Sides, res.AwaitingRoll.Kind)
	}
	if res.EncounterEnded {
		fmt.Println("encounter ended:", res.Outcome)
	}
}

func printConditions(conds []domain.Condition) error {
	if viper.GetBool("json") {
		return printJSON(conds)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Source", "Name", "Modifiers", "Rounds"})
	for _, c := range conds {
		mods, _ := json.Marshal(c.StatModifiers)
		tw.AppendRow(table.Row{c.Source, c.Name, string(mods), c.RoundsRemaining})
	}
	tw.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describeError adds the code of combat errors so scripts can match on it.
func describeError(err error) string {
	if code := combat.CodeOf(err); code != "" {
		return fmt.Sprintf("%s: %v", code, err)
	}
	return err.Error()
}
