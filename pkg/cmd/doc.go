// Package cmd provides the groundskeeper command line interface.
//
// Commands are constructed through fx and registered in the "commands" value
// group; Run assembles them into the root urfave/cli application. Each
// command resolves its dependencies (configuration, state store, ClickHouse
// client) at action time so that help and version output work without a
// project configuration.
package cmd
