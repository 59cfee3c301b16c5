package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/lacproject/lac/p2p"
	"github.com/lacproject/lac/protocol/params"
	"github.com/lacproject/lac/wallet"
)

const Version = "0.1.0"

func main() {
	if len(os.Args) < 2 || os.Args[1] != "run" {
		fmt.Fprintln(os.Stderr, "usage: lac run [--datadir dir] [--port n] [--bootstrap addr] [--discover]")
		os.Exit(1)
	}

	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dataDir := fs.String("datadir", DefaultDataDir, "directory holding chain, wallet, and persisted state")
	port := fs.Int("port", DefaultListenPort, "p2p listen port")
	bootstrap := fs.String("bootstrap", "", "comma-separated multiaddrs of peers to connect to on startup")
	discover := fs.Bool("discover", false, "accept inbound connections from any peer (disabled by default)")
	_ = fs.Parse(os.Args[2:])

	if err := run(*dataDir, *port, *bootstrap, *discover); err != nil {
		fmt.Fprintf(os.Stderr, "lac: %v\n", err)
		os.Exit(1)
	}
}

func run(dataDir string, port int, bootstrap string, discover bool) error {
	store, err := LoadOrCreateStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to load store: %w", err)
	}

	if _, err := loadOrCreateNodeWallet(dataDir); err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}

	nodeCfg := p2p.DefaultNodeConfig()
	nodeCfg.ListenAddrs = []string{
		fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", port),
		fmt.Sprintf("/ip6/::/tcp/%d", port),
	}
	if !discover {
		nodeCfg.MaxInbound = 0
	}

	node, err := p2p.NewNode(nodeCfg)
	if err != nil {
		return fmt.Errorf("failed to start p2p node: %w", err)
	}
	defer func() {
		if err := node.Stop(); err != nil {
			log.Printf("error during p2p shutdown: %v", err)
		}
	}()

	log.Printf("lac %s joining %s (chain %#x), peer id %s", Version, params.NetworkID, params.ChainID, node.PeerID())
	for _, addr := range node.FullMultiaddrs() {
		log.Printf("reachable at %s", addr)
	}

	if bootstrap != "" {
		connectBootstrapPeers(node, bootstrap)
	}

	params := DevRuntimeParams()
	loop := NewBlockLoop(store, node, params)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	<-sigCh
	log.Println("shutting down...")
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Println("block loop did not stop in time")
	}

	store.Lock()
	err = store.SaveAll()
	store.Unlock()
	if err != nil {
		return fmt.Errorf("failed to persist store on shutdown: %w", err)
	}
	return nil
}

func connectBootstrapPeers(node *p2p.Node, bootstrap string) {
	for _, raw := range strings.Split(bootstrap, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		addr, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			log.Printf("invalid bootstrap address %q: %v", raw, err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			log.Printf("invalid bootstrap address %q: %v", raw, err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := node.Connect(ctx, *info); err != nil {
			log.Printf("failed to connect to bootstrap peer %s: %v", raw, err)
		}
		cancel()
	}
}

func loadOrCreateNodeWallet(dataDir string) (*wallet.Wallet, error) {
	cfg := wallet.WalletConfig{DeriveAddress: DeriveAddress}
	filename := dataDir + "/" + DefaultWalletFilename

	fmt.Print("wallet password: ")
	var input string
	if _, err := fmt.Scanln(&input); err != nil {
		input = ""
	}
	password := []byte(input)
	defer wipeBytes(password)

	return wallet.LoadOrCreateWallet(filename, password, cfg)
}
