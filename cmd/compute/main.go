// Package main is the `compute` CLI: task submission/status against a
// running swarm+ledger node, wallet key management, and EVM teleport
// bridging (spec §6). Grounded on cmd/kcn/main.go's urfave/cli.v1 app/
// command wiring, scaled down from a full consensus-node daemon to this
// protocol's much smaller operator surface.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/naoina/toml"
	"gopkg.in/urfave/cli.v1"

	"github.com/hanzoai/compute/common"
	swarmpkg "github.com/hanzoai/compute/compute"
	"github.com/hanzoai/compute/log"
	"github.com/hanzoai/compute/mining"
	"github.com/hanzoai/compute/params"
	"github.com/hanzoai/compute/storage/chainstore"
	"github.com/hanzoai/compute/storage/database"
)

var logger = log.NewModuleLogger(log.CLI)

var app = newApp()

func newApp() *cli.App {
	a := cli.NewApp()
	a.Name = "compute"
	a.Usage = "Distributed AI Compute Protocol client"
	a.Version = "0.1.0"
	return a
}

var (
	rpcFlag = cli.StringFlag{
		Name:  "rpc",
		Usage: "ledger/compute RPC base URL",
		Value: "http://127.0.0.1:8645",
	}
	keyfileFlag = cli.StringFlag{
		Name:  "keyfile",
		Usage: "wallet export file path",
		Value: "wallet.key",
	}
	passphraseFlag = cli.StringFlag{
		Name:  "passphrase",
		Usage: "wallet export passphrase",
	}
)

func init() {
	app.Commands = []cli.Command{
		{
			Name:        "compute",
			Usage:       "task submission and status",
			Subcommands: []cli.Command{computeSubmitCommand, computeStatusCommand},
		},
		{
			Name:        "wallet",
			Usage:       "quantum-safe key management",
			Subcommands: []cli.Command{walletGenerateCommand, walletExportCommand, walletImportCommand},
		},
		{
			Name:        "bridge",
			Usage:       "EVM teleport bridge",
			Subcommands: []cli.Command{bridgeTeleportCommand},
		},
		nodeCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a returned error onto spec §6's CLI exit codes.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if ce, ok := err.(*common.Error); ok {
		code := ce.Kind.ExitCode()
		if code == 0 {
			return 2
		}
		return code
	}
	return 2
}

var computeSubmitCommand = cli.Command{
	Name:  "submit",
	Usage: "submit a compute task to the swarm",
	Flags: []cli.Flag{
		rpcFlag,
		cli.StringFlag{Name: "task-type", Usage: "inference|embedding|reranking|training|custom"},
		cli.StringFlag{Name: "model", Usage: "model identifier"},
		cli.StringFlag{Name: "prompt", Usage: "prompt text (inference tasks)"},
		cli.IntFlag{Name: "redundancy", Usage: "pieces computed per result (0 = server default)"},
		cli.Float64Flag{Name: "reward", Usage: "total reward offered"},
		cli.Float64Flag{Name: "min-reputation", Usage: "minimum peer reputation required"},
		cli.BoolFlag{Name: "requires-tee", Usage: "require TEE attestation"},
	},
	Action: func(c *cli.Context) error {
		if c.String("task-type") == "" {
			return common.New(common.KindInvalidData, "--task-type is required")
		}
		client := newLedgerClient(c.String("rpc") + "/compute/rpc")
		args := &swarmpkg.SubmitTaskArgs{
			TaskType:      c.String("task-type"),
			Model:         c.String("model"),
			Prompt:        c.String("prompt"),
			Redundancy:    c.Int("redundancy"),
			Reward:        c.Float64("reward"),
			MinReputation: c.Float64("min-reputation"),
			RequiresTEE:   c.Bool("requires-tee"),
		}
		var reply swarmpkg.SubmitTaskReply
		if err := client.call("compute.SubmitTask", args, &reply); err != nil {
			return err
		}
		fmt.Println(reply.TaskID)
		return nil
	},
}

var computeStatusCommand = cli.Command{
	Name:      "status",
	Usage:     "report a task's verification progress",
	ArgsUsage: "<task-id>",
	Flags: []cli.Flag{
		rpcFlag,
		cli.DurationFlag{Name: "wait", Usage: "block until completion or this long"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return common.New(common.KindInvalidData, "expected exactly one <task-id> argument")
		}
		client := newLedgerClient(c.String("rpc") + "/compute/rpc")
		args := &swarmpkg.GetTaskStatusArgs{
			TaskID:  c.Args().Get(0),
			AwaitMs: c.Duration("wait").Milliseconds(),
		}
		var reply swarmpkg.GetTaskStatusReply
		if err := client.call("compute.GetTaskStatus", args, &reply); err != nil {
			return err
		}
		if !reply.Found {
			return common.New(common.KindNotFound, "no such task")
		}
		switch {
		case reply.Failed:
			fmt.Printf("failed: %s\n", reply.Reason)
			return common.New(common.KindVerificationFailed, reply.Reason)
		case reply.Complete:
			fmt.Printf("complete: %d/%d pieces verified\n", reply.Verified, reply.Total)
		default:
			fmt.Printf("pending: %d/%d pieces verified\n", reply.Verified, reply.Total)
		}
		return nil
	},
}

var walletGenerateCommand = cli.Command{
	Name:  "generate",
	Usage: "generate a wallet keypair (wallet generate --security-level={2|3|5})",
	Flags: []cli.Flag{
		keyfileFlag, passphraseFlag,
		cli.IntFlag{Name: "security-level", Value: 3},
	},
	Action: func(c *cli.Context) error {
		w, err := mining.Generate(c.Int("security-level"))
		if err != nil {
			return err
		}
		if c.String("passphrase") != "" {
			blob, err := w.ExportToBytes(c.String("passphrase"))
			if err != nil {
				return err
			}
			if err := ioutil.WriteFile(c.String("keyfile"), blob, 0600); err != nil {
				return common.Wrap(err, common.KindStorageError, "write keyfile")
			}
		}
		fmt.Println(w.Address())
		return nil
	},
}

var walletExportCommand = cli.Command{
	Name:      "export",
	Usage:     "export an in-memory wallet's key material to <path>",
	ArgsUsage: "<path>",
	Flags:     []cli.Flag{keyfileFlag, passphraseFlag},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return common.New(common.KindInvalidData, "expected exactly one <path> argument")
		}
		blob, err := ioutil.ReadFile(c.String("keyfile"))
		if err != nil {
			return common.Wrap(err, common.KindStorageError, "read keyfile")
		}
		w, err := mining.ImportFromBytes(blob, c.String("passphrase"))
		if err != nil {
			return err
		}
		reExported, err := w.ExportToBytes(c.String("passphrase"))
		if err != nil {
			return err
		}
		if err := ioutil.WriteFile(c.Args().Get(0), reExported, 0600); err != nil {
			return common.Wrap(err, common.KindStorageError, "write export")
		}
		fmt.Println(w.Address())
		return nil
	},
}

var walletImportCommand = cli.Command{
	Name:      "import",
	Usage:     "import a wallet key blob from <path>",
	ArgsUsage: "<path>",
	Flags:     []cli.Flag{passphraseFlag},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return common.New(common.KindInvalidData, "expected exactly one <path> argument")
		}
		blob, err := ioutil.ReadFile(c.Args().Get(0))
		if err != nil {
			return common.Wrap(err, common.KindStorageError, "read import file")
		}
		w, err := mining.ImportFromBytes(blob, c.String("passphrase"))
		if err != nil {
			return err
		}
		fmt.Println(w.Address())
		return nil
	},
}

var bridgeTeleportCommand = cli.Command{
	Name:  "teleport",
	Usage: "teleport funds to an EVM destination (bridge teleport --to={lux|zoo|hanzo} --amount=…)",
	Flags: []cli.Flag{
		rpcFlag, keyfileFlag, passphraseFlag,
		cli.StringFlag{Name: "to", Usage: "lux|zoo|hanzo"},
		cli.Uint64Flag{Name: "amount"},
		cli.StringFlag{Name: "recipient", Usage: "destination-chain recipient address"},
	},
	Action: func(c *cli.Context) error {
		destination, ok := params.ChainTagByName(c.String("to"))
		if !ok {
			return common.New(common.KindInvalidData, "unknown destination %q", c.String("to"))
		}
		blob, err := ioutil.ReadFile(c.String("keyfile"))
		if err != nil {
			return common.Wrap(err, common.KindStorageError, "read keyfile")
		}
		w, err := mining.ImportFromBytes(blob, c.String("passphrase"))
		if err != nil {
			return err
		}

		client := newLedgerClient(c.String("rpc") + "/ledger/rpc")
		var minerReply mining.GetMinerReply
		if err := client.call("ledger.GetMiner", &mining.GetMinerArgs{Address: w.Address()}, &minerReply); err != nil {
			return err
		}

		clients := map[params.ChainTag]mining.DestinationClient{
			params.LuxCChain: nil, params.ZooEvm: nil, params.HanzoEvm: nil,
		}
		submitTx := func(tx *mining.Tx) error {
			raw, err := marshalTxWire(tx)
			if err != nil {
				return err
			}
			var reply mining.SubmitTransactionReply
			return client.call("ledger.SubmitTransaction", &mining.SubmitTransactionArgs{Tx: raw}, &reply)
		}
		bridge := mining.NewBridge(submitTx, clients)

		var teleportID [16]byte
		if _, err := rand.Read(teleportID[:]); err != nil {
			return common.Wrap(err, common.KindInvalidData, "generate teleport id")
		}
		transfer, err := bridge.TeleportOut(teleportID, destination, c.Uint64("amount"), c.String("recipient"), w, minerReply.Miner.Nonce, minerReply.Miner.Claimed)
		if err != nil {
			return err
		}
		fmt.Printf("teleport %x initiated: %d to %s\n", transfer.ID, transfer.Amount, transfer.Destination)
		return nil
	},
}

// nodeConfig is the TOML file shape accepted by `compute node --config`,
// overriding the equivalent command-line flags when present. Grounded on
// the teacher's cmd/utils/nodecmd TOML config loading (naoina/toml over an
// exported struct, file settings layered under flag defaults).
type nodeConfig struct {
	Addr      string
	DataDir   string
	Validator string
	DBEngine  string
}

func loadNodeConfig(path string) (nodeConfig, error) {
	var cfg nodeConfig
	f, err := os.Open(path)
	if err != nil {
		return cfg, common.Wrap(err, common.KindStorageError, "open config file")
	}
	defer f.Close()
	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, common.Wrap(err, common.KindSerializationError, "parse config file")
	}
	return cfg, nil
}

var nodeCommand = cli.Command{
	Name:  "node",
	Usage: "run a ledger + compute swarm RPC node",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "addr", Value: ":8645"},
		cli.StringFlag{Name: "datadir", Value: "compute-data"},
		cli.StringFlag{Name: "validator", Value: "self"},
		cli.StringFlag{Name: "db-engine", Value: string(database.LevelDB), Usage: "leveldb|badger"},
		cli.StringFlag{Name: "config", Usage: "TOML file overriding the flags above"},
	},
	Action: func(c *cli.Context) error {
		addr, datadir, validator, dbEngine := c.String("addr"), c.String("datadir"), c.String("validator"), c.String("db-engine")
		if path := c.String("config"); path != "" {
			cfg, err := loadNodeConfig(path)
			if err != nil {
				return err
			}
			if cfg.Addr != "" {
				addr = cfg.Addr
			}
			if cfg.DataDir != "" {
				datadir = cfg.DataDir
			}
			if cfg.Validator != "" {
				validator = cfg.Validator
			}
			if cfg.DBEngine != "" {
				dbEngine = cfg.DBEngine
			}
		}
		return runNode(addr, datadir, validator, dbEngine)
	},
}

func openNodeDatabase(dbEngine, datadir string) (database.Database, error) {
	switch database.DBType(dbEngine) {
	case database.BadgerDB:
		return database.NewBadgerDB(datadir)
	case database.LevelDB, "":
		return database.NewLDBDatabase(datadir, 0, 0)
	default:
		return nil, common.New(common.KindInvalidData, "unknown db engine %q", dbEngine)
	}
}

func runNode(addr, datadir, validator, dbEngine string) error {
	db, err := openNodeDatabase(dbEngine, datadir)
	if err != nil {
		return common.Wrap(err, common.KindStorageError, "open node datastore")
	}
	defer db.Close()
	store := chainstore.New(db)

	consensus := mining.NewConsensus([]mining.ValidatorID{mining.ValidatorID(validator)})
	ledger := mining.NewLedger(mining.ValidatorID(validator), consensus, uint64(time.Now().UnixNano()))
	bridge := mining.NewBridge(ledger.SubmitTx, nil)
	swarm := swarmpkg.NewSwarm(swarmpkg.DefaultConfig(), stubOracle{})

	events, sub := ledger.Subscribe()
	defer sub.Unsubscribe()
	go func() {
		for ev := range events {
			if ev.Kind != mining.EventBlockAccepted {
				continue
			}
			if b, ok := ledger.BlockAt(ev.Height); ok {
				if err := store.PutBlock(b); err != nil {
					logger.Warn("persist block failed", "height", ev.Height, "err", err)
				}
			}
		}
	}()

	go ledger.Run()
	defer ledger.Stop()
	swarm.Start()
	defer swarm.Stop()

	mux := http.NewServeMux()
	mux.Handle("/ledger/rpc", mining.NewHTTPHandler(mining.NewLedgerService(ledger, bridge)))
	mux.Handle("/compute/rpc", swarmpkg.NewHTTPHandler(swarmpkg.NewSwarmService(swarm)))

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("node listening", "addr", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return common.Wrap(err, common.KindNetwork, "rpc server")
		}
	case <-sigCh:
		logger.Info("shutting down")
	}
	return nil
}

// marshalTxWire hex-encodes tx in the wire layout mining.LedgerService's
// SubmitTransaction (and its unmarshalTx helper) expect: lowercase,
// snake_case field names over the same payload shape CanonicalBytes signs.
func marshalTxWire(tx *mining.Tx) (string, error) {
	raw, err := json.Marshal(struct {
		Type        mining.TxType              `json:"type"`
		Nonce       uint64                     `json:"nonce"`
		SignerPK    []byte                     `json:"signer_pk"`
		Signature   []byte                     `json:"signature"`
		SubmitProof *mining.SubmitProofPayload `json:"submit_proof,omitempty"`
		ClaimAmount uint64                     `json:"claim_amount,omitempty"`
		Teleport    *mining.TeleportPayload    `json:"teleport,omitempty"`
		MinerUpdate *mining.MinerUpdatePayload `json:"miner_update,omitempty"`
		Vote        *mining.VotePayload        `json:"vote,omitempty"`
	}{tx.Type, tx.Nonce, tx.SignerPK, tx.Signature, tx.SubmitProof, tx.ClaimAmount, tx.Teleport, tx.MinerUpdate, tx.Vote})
	if err != nil {
		return "", common.Wrap(err, common.KindSerializationError, "marshal transaction wire")
	}
	return hex.EncodeToString(raw), nil
}

type stubOracle struct{}

func (stubOracle) VerifyAttestation(peer common.PeerID, data []byte) bool { return true }
