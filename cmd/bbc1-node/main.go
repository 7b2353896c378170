// Command bbc1-node boots a NetworkHub, creates one domain, and logs
// lifecycle events until interrupted. It is deliberately thin — process
// bootstrap, flag parsing and logging are out of scope for the networking
// core itself. It drives the domain lifecycle entry points of NetworkHub
// (CreateDomain, AddStaticNodeToDomain, RemoveDomain); the user, routing,
// resource, cross-ref and peer-list persistence calls are not exercised
// here. It plays the role cmd/monitor and cmd/ping play for the teacher's
// Node.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/arkth-araya/bbc1/netcore/domain"
	"github.com/arkth-araya/bbc1/netcore/hub"
	"github.com/arkth-araya/bbc1/netcore/id"
)

var (
	domainFlag     = flag.String("domain", "", "hex-encoded domain id to join (32 bytes); empty generates one")
	port           = flag.Int("port", 9000, "UDP/TCP port to bind for both 0.0.0.0 and ::")
	module         = flag.String("module", "null", "overlay module name registered for this domain")
	staticPeerFlag = flag.String("static-peer", "", "comma-separated node=ipv4:port static peers to seed the domain with, e.g. a1b2...=127.0.0.1:9001")
)

// loggingLedger is a minimal LedgerCore that just logs what it's given,
// standing in for the real ledger/storage layer this core treats as an
// external collaborator.
type loggingLedger struct{}

func (loggingLedger) DeliverToUser(body interface{}) error {
	log.Printf("I: deliverToUser: %#v", body)
	return nil
}

func (loggingLedger) ReplyError(msg map[string]interface{}, code domain.ErrorCode, text string) error {
	log.Printf("W: replyError code=%d text=%q msg=%#v", code, text, msg)
	return nil
}

func (loggingLedger) RecordCrossRef(assetGroupID id.AssetGroupID, txID [32]byte) error {
	log.Printf("I: recordCrossRef assetGroup=%s tx=%s", hex.EncodeToString(assetGroupID[:])[:8], hex.EncodeToString(txID[:8]))
	return nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var domainID id.DomainId
	if *domainFlag == "" {
		generated, err := id.NewDomainId()
		if err != nil {
			log.Fatalf("generate domain id: %v", err)
		}
		domainID = generated
	} else {
		b, err := hex.DecodeString(*domainFlag)
		if err != nil || len(b) != id.Size {
			log.Fatalf("-domain must be %d hex-encoded bytes", id.Size)
		}
		copy(domainID[:], b)
	}

	h, err := hub.New(hub.Config{
		Port:        *port,
		Ledger:      loggingLedger{},
		ConfigStore: hub.NewMemoryConfigStore(),
	})
	if err != nil {
		log.Fatalf("start hub: %v", err)
	}
	defer h.Close()

	log.Printf("I: node %s listening on port %d", h.Self().String()[:8], h.Port())

	if _, err := h.CreateDomain(domainID, *module, false); err != nil {
		log.Fatalf("create domain: %v", err)
	}
	log.Printf("I: joined domain %s (module=%q)", domainID.String()[:8], *module)

	for _, entry := range strings.Split(*staticPeerFlag, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		nodeID, ipv4, peerPort, err := parseStaticPeer(entry)
		if err != nil {
			log.Printf("W: skipping malformed -static-peer entry %q: %v", entry, err)
			continue
		}
		if err := h.AddStaticNodeToDomain(domainID, nodeID, ipv4, "", peerPort); err != nil {
			log.Printf("W: addStaticNodeToDomain %q: %v", entry, err)
			continue
		}
		log.Printf("I: seeded static peer %s at %s:%d", nodeID.Short(), ipv4, peerPort)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig

	log.Printf("I: shutting down, leaving domain %s", domainID.String()[:8])
	h.RemoveDomain(domainID)
}

// parseStaticPeer parses "nodeIdHex=ipv4:port".
func parseStaticPeer(entry string) (id.NodeId, string, uint16, error) {
	parts := strings.SplitN(entry, "=", 2)
	if len(parts) != 2 {
		return id.NodeId{}, "", 0, fmt.Errorf("expected nodeId=ipv4:port")
	}
	b, err := hex.DecodeString(parts[0])
	if err != nil || len(b) != id.Size {
		return id.NodeId{}, "", 0, fmt.Errorf("node id must be %d hex-encoded bytes", id.Size)
	}
	var nodeID id.NodeId
	copy(nodeID[:], b)

	host, portStr, err := splitHostPort(parts[1])
	if err != nil {
		return id.NodeId{}, "", 0, err
	}
	p, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return id.NodeId{}, "", 0, fmt.Errorf("bad port: %w", err)
	}
	return nodeID, host, uint16(p), nil
}

func splitHostPort(s string) (host, port string, err error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("expected host:port")
	}
	return s[:idx], s[idx+1:], nil
}
