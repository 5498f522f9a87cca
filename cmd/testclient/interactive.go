package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/qiminjie89/chatsys/internal/chat"
	"github.com/qiminjie89/chatsys/internal/codec"
	"github.com/qiminjie89/chatsys/internal/protocol"
)

// runInteractive 交互式测试客户端
func runInteractive(signer *protocol.Signer) {
	client, err := Dial(*serverAddr, signer, *timeout)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	log.Infof("connected to %s. Type 'help' for commands.", *serverAddr)

	// 推送与断开单独打印
	go func() {
		for {
			select {
			case n := <-client.Pushes():
				printNotice(n)
			case <-client.Done():
				log.Errorf("connection closed: %v", client.Err())
				os.Exit(1)
			}
		}
	}()

	uid := *userID
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")

	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			fmt.Print("> ")
			continue
		}

		switch cmd, args := parts[0], parts[1:]; cmd {
		case "help":
			printHelp()

		case "announce":
			// announce [uid]
			if len(args) > 0 {
				uid = parseUint(args[0], uid)
			}
			if err := client.Announce(uid, *timeout); err != nil {
				log.Errorf("announce: %v", err)
			} else {
				log.Infof("announced uid %d", uid)
			}

		case "send":
			// send <kind> <dst> <content...>
			if len(args) < 3 {
				log.Infof("usage: send <kind> <dst> <content>")
				break
			}
			kind := uint8(parseUint(args[0], protocol.KindP2P))
			dst := parseUint(args[1], 0)
			resp, err := client.SendMessage(uid, kind, dst, 1, strings.Join(args[2:], " "), *timeout)
			if err != nil {
				log.Errorf("send: %v", err)
				break
			}
			printResponse(resp, &chat.SentSummary{})

		case "kingdom":
			// kingdom [limit]
			limit := int16(parseUint(argOr(args, 0), 10))
			call(client, protocol.CodeKingdomMessageContent, historyBody(0, limit, 0, int64(uid)), &chat.KingdomMessages{})

		case "group":
			// group <gid> [limit]
			if len(args) < 1 {
				log.Infof("usage: group <gid> [limit]")
				break
			}
			limit := int16(parseUint(argOr(args, 1), 10))
			call(client, protocol.CodeGroupMessageContent, historyBody(0, limit, 0, int64(parseUint(args[0], 0)), int64(uid)), &chat.GroupMessages{})

		case "p2p":
			// p2p <peer> [limit]
			if len(args) < 1 {
				log.Infof("usage: p2p <peer> [limit]")
				break
			}
			limit := int16(parseUint(argOr(args, 1), 10))
			call(client, protocol.CodeP2PMessageContent, historyBody(0, limit, 0, int64(parseUint(args[0], 0)), int64(uid)), &chat.P2PMessages{})

		case "unread":
			// unread [kingdom_read_ts]
			ts := int64(parseUint(argOr(args, 0), 0))
			call(client, protocol.CodeUnreadMessageCount, unreadBody(ts, int64(uid)), &chat.UnreadSummary{})

		case "channel":
			// channel <tid> <dst_or_ts>
			if len(args) < 2 {
				log.Infof("usage: channel <tid> <dst_or_ts>")
				break
			}
			tid := int16(parseUint(args[0], 0))
			call(client, protocol.CodeChannelChatUnreadCount, channelBody(tid, int64(parseUint(args[1], 0)), int64(uid)), &chat.ChannelUnread{})

		case "quit", "exit":
			log.Infof("bye")
			return

		default:
			log.Infof("unknown command: %s. Type 'help' for usage.", cmd)
		}

		fmt.Print("> ")
	}
}

func call(client *Client, code protocol.RouterCode, body []byte, out codec.Record) {
	resp, err := client.Call(code, body, *timeout)
	if err != nil {
		log.Errorf("%s: %v", code, err)
		return
	}
	printResponse(resp, out)
}

func argOr(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func parseUint(s string, def uint64) uint64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		log.Warnf("invalid number %q, using %d", s, def)
		return def
	}
	return v
}

func printHelp() {
	fmt.Print(`
Commands:
  help                          - Show this help
  announce [uid]                - Announce user id (2001)
  send <kind> <dst> <content>   - Send message (2002), kind: 1 kingdom, 2 group, 3 p2p
  kingdom [limit]               - Kingdom history (2005)
  group <gid> [limit]           - Group history (2006)
  p2p <peer> [limit]            - P2P history (2007)
  unread [kingdom_read_ts]      - Unread summary (2004)
  channel <tid> <dst_or_ts>     - Channel unread count (2008)
  quit                          - Exit

Examples:
  announce 1001
  send 3 1002 hello there
  p2p 1002 20
` + "\n")
}
