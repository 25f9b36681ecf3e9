// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package reactorcore implements the event-loop group and per-loop reactor
// that multiplex many network sockets on a small number of OS threads, plus
// the future/promise and executor-group machinery used to compose
// asynchronous operations over them.
//
// # Architecture
//
// A [Group] owns a fixed, ordered fleet of [Loop] values, handed out to
// callers round robin via [Group.Next]. Each [Loop] is a single-threaded
// executor (lazily starting its own goroutine on first [Loop.Execute]) that
// also acts as a reactor: it owns an OS readiness notifier (epoll on Linux,
// kqueue on Darwin), a registration table, an MPSC task queue, and a
// scheduled-task heap. Once a selectable resource is registered on a loop
// via [Loop.Register], it is pinned to that loop for life — all registration
// state is mutated exclusively by the loop's own goroutine, so no locking is
// needed for per-channel state.
//
// Every asynchronous operation the core exposes — task submission,
// scheduling, graceful shutdown, registration — completes through a
// [Future]/[Promise] pair, which provides single-assignment results with
// ordered listener notification, matching the semantics used throughout for
// bind/connect/close/shutdown style operations.
//
// # Usage
//
//	group, err := reactorcore.NewGroup(4)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer group.ShutdownGracefully(0, 5*time.Second)
//
//	loop := group.Next()
//	fut := loop.Submit(func() (reactorcore.Result, error) {
//	    return 42, nil
//	})
//	err = fut.Sync(context.Background())
//
// # Platform support
//
// The reactor itself (epoll/kqueue registration) is built only for linux and
// darwin. On other platforms a [Loop] still works in task-only mode (no
// [Loop.Register] support), waiting on a channel-based wakeup notifier in
// place of epoll/kqueue.
package reactorcore
