/*
Package jsisolate embeds a JavaScript engine behind an explicit resource
lifecycle and a single-owner thread model.

An Isolate is owned by the thread holding its Locker; NewIsolate hands the
lock to the calling goroutine and pins it to its OS thread. Contexts are
global scopes inside an Isolate, and Values are counted references to script
objects that must be closed. Closing an Isolate tears everything down and
reports the Values still open as a LeakError.

Executor, ConcurrentIsolate and IsolateThread package the common ways of
running an Isolate from concurrent Go code.
*/
package jsisolate
