// IRC transport for the warden engine.
//
// Client keeps one connection to a network (rotating through a server list when a
// connection fails), tracks channel membership and prefixes so the engine can look up roles,
// captures user hosts into a cache for ban masks, and feeds PRIVMSG, JOIN and NICK events to
// an EventHandler. Events for the same nickname are handled in arrival order; events for
// different nicknames are handled concurrently.
package ircconn
