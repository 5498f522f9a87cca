// Package main 提供聊天服务测试客户端
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/qiminjie89/chatsys/internal/chat"
	"github.com/qiminjie89/chatsys/internal/codec"
	"github.com/qiminjie89/chatsys/internal/protocol"
	"github.com/qiminjie89/chatsys/internal/push"
	"github.com/qiminjie89/chatsys/pkg/logger"
)

// 配置
var (
	serverAddr = flag.String("addr", "localhost:8080", "chat server address (host:port or ws://host:port/ws)")
	secret     = flag.String("secret", "dev_secret", "frame signing secret")
	algorithm  = flag.String("alg", "city64", "signature algorithm: city64, xxhash64")
	mode       = flag.String("mode", "listen", "listen, send, history, unread, interactive, load")
	userID     = flag.Uint64("uid", 1001, "user id to announce")
	kind       = flag.Uint("kind", protocol.KindP2P, "message kind: 1 kingdom, 2 group, 3 p2p")
	dstID      = flag.Uint64("dst", 1002, "destination id (user, group or server number)")
	content    = flag.String("content", "hello", "message content")
	limit      = flag.Int("limit", 10, "history page size")
	timeout    = flag.Duration("timeout", 5*time.Second, "request timeout")
	verbose    = flag.Bool("v", false, "verbose output")
)

var log *zap.SugaredLogger

func main() {
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	l, err := logger.New(logger.Config{Level: level, Format: "console", Output: "stderr"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer l.Sync()
	log = l.Sugar()

	signer, err := protocol.NewSigner(*secret, protocol.SignAlgorithm(*algorithm))
	if err != nil {
		log.Fatalf("signer: %v", err)
	}

	switch *mode {
	case "interactive":
		runInteractive(signer)
		return
	case "load":
		runLoadTest(signer)
		return
	}

	client, err := Dial(*serverAddr, signer, *timeout)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()
	log.Infof("connected to %s", *serverAddr)

	if err := client.Announce(*userID, *timeout); err != nil {
		log.Fatalf("announce failed: %v", err)
	}
	log.Infof("announced uid %d", *userID)

	switch *mode {
	case "listen":
		listen(client)
	case "send":
		resp, err := client.SendMessage(*userID, uint8(*kind), *dstID, 1, *content, *timeout)
		if err != nil {
			log.Fatalf("send failed: %v", err)
		}
		printResponse(resp, &chat.SentSummary{})
	case "history":
		printHistory(client, int16(*kind), *limit)
	case "unread":
		resp, err := client.Call(protocol.CodeUnreadMessageCount, unreadBody(0, int64(*userID)), *timeout)
		if err != nil {
			log.Fatalf("unread failed: %v", err)
		}
		printResponse(resp, &chat.UnreadSummary{})
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
}

// listen 打印推送直到断开或收到退出信号
func listen(client *Client) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Infof("listening for push messages, press Ctrl+C to exit")
	for {
		select {
		case sig := <-sigCh:
			log.Infof("received signal %v, shutting down", sig)
			return
		case n := <-client.Pushes():
			printNotice(n)
		case <-client.Done():
			log.Infof("connection closed: %v", client.Err())
			return
		}
	}
}

func printHistory(client *Client, tid int16, limit int) {
	var (
		code protocol.RouterCode
		body []byte
		out  codec.Record
	)
	uid := int64(*userID)
	switch tid {
	case protocol.KindKingdom:
		code, body, out = protocol.CodeKingdomMessageContent, historyBody(0, int16(limit), 0, uid), &chat.KingdomMessages{}
	case protocol.KindGroup:
		code, body, out = protocol.CodeGroupMessageContent, historyBody(0, int16(limit), 0, int64(*dstID), uid), &chat.GroupMessages{}
	default:
		code, body, out = protocol.CodeP2PMessageContent, historyBody(0, int16(limit), 0, int64(*dstID), uid), &chat.P2PMessages{}
	}
	resp, err := client.Call(code, body, *timeout)
	if err != nil {
		log.Fatalf("history failed: %v", err)
	}
	printResponse(resp, out)
}

func printResponse(resp *protocol.Response, out codec.Record) {
	log.Infof("[RECV] code=%d (%s) session=%d state=%s msg=%q",
		resp.Code, protocol.RouterCode(resp.Code), resp.SessionID, resp.State, resp.Message)
	if resp.State != protocol.StateOK || out == nil {
		return
	}
	if err := codec.Unmarshal(resp.Body, out); err != nil {
		log.Warnf("decode body: %v", err)
		return
	}
	log.Infof("  body: %+v", out)
}

func printNotice(n *push.Notice) {
	log.Infof("[PUSH] kind=%d from=%d dst=%d mid=%d type=%d content=%q",
		n.TID, n.From, n.Dst, n.MID, n.MsgType, n.Content)
}
