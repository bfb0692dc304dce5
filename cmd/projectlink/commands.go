package main

import "strings"

type commandKind int

const (
	cmdEmpty   commandKind = iota
	cmdChat                // plain text, sent as chat_message
	cmdServer              // unknown slash command, sent as chat_command
	cmdJoin
	cmdLeave
	cmdProject
	cmdStatus
	cmdInfo
	cmdHelp
	cmdQuit
	cmdInvalid
)

type command struct {
	kind commandKind
	arg  string
	line string
}

// parseLine classifies one line of user input. Slash commands the client
// handles itself are matched case-insensitively; everything else starting
// with a slash goes to the server.
func parseLine(line string) command {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{kind: cmdEmpty}
	}
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdChat, line: line}
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	withArg := func(kind commandKind) command {
		if arg == "" {
			return command{kind: cmdInvalid, line: line, arg: name + " needs an argument"}
		}
		return command{kind: kind, arg: arg, line: line}
	}

	switch strings.ToLower(name) {
	case "/join":
		return withArg(cmdJoin)
	case "/leave":
		return withArg(cmdLeave)
	case "/project":
		return withArg(cmdProject)
	case "/status":
		return command{kind: cmdStatus, line: line}
	case "/info":
		return command{kind: cmdInfo, line: line}
	case "/?":
		return command{kind: cmdHelp, line: line}
	case "/quit", "/exit":
		return command{kind: cmdQuit, line: line}
	default:
		return command{kind: cmdServer, line: line}
	}
}

const localHelp = `local commands:
  /join <room>      join a room
  /leave <room>     leave a room
  /project <id>     switch project context
  /status           ask the server for status
  /info             show connection info
  /?                this help
  /quit             exit
anything else starting with / is sent to the server as a command`
