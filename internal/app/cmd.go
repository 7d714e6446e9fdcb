package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	CommandServe   Command = "serve"
	CommandWorker  Command = "worker"
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistrolessイメージのHEALTHCHECKから呼ばれる。
	CommandHealthcheck Command = "healthcheck"
)

// MigrateAction はmigrateサブコマンドの動作。
type MigrateAction string

const (
	MigrateUp     MigrateAction = "up"
	MigrateDown   MigrateAction = "down"
	MigrateStatus MigrateAction = "status"
)

// Invocation はコマンドライン引数の解析結果。
type Invocation struct {
	Command Command
	// Migrate系の引数。Command == CommandMigrate のときのみ意味を持つ。
	MigrateAction MigrateAction
	MigrateSteps  int
}

const usage = "usage: designstudio [serve | worker | migrate [up | status | down N] | healthcheck]"

// ParseCommand はos.Args[1:]を解析する。引数なしはserveとして扱う。
// 未知のサブコマンドはserveにフォールバックせずエラーを返す。
func ParseCommand(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{Command: CommandServe}, nil
	}

	switch cmd := Command(args[0]); cmd {
	case CommandServe, CommandWorker, CommandHealthcheck:
		return Invocation{Command: cmd}, nil
	case CommandMigrate:
		return parseMigrate(args[1:])
	default:
		return Invocation{}, fmt.Errorf("unknown command %q; %s", args[0], usage)
	}
}

func parseMigrate(args []string) (Invocation, error) {
	inv := Invocation{Command: CommandMigrate, MigrateAction: MigrateUp}
	if len(args) == 0 {
		return inv, nil
	}

	switch action := MigrateAction(args[0]); action {
	case MigrateUp, MigrateStatus:
		inv.MigrateAction = action
	case MigrateDown:
		if len(args) < 2 {
			return Invocation{}, fmt.Errorf("migrate down requires a step count; %s", usage)
		}
		steps, err := strconv.Atoi(args[1])
		if err != nil || steps <= 0 {
			return Invocation{}, fmt.Errorf("invalid step count %q for migrate down", args[1])
		}
		inv.MigrateAction = action
		inv.MigrateSteps = steps
	default:
		return Invocation{}, fmt.Errorf("unknown migrate action %q; %s", args[0], usage)
	}
	return inv, nil
}
