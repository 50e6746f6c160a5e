// Package shell decides whether a single line of shell text is nothing more
// than an invocation of one script file. The decision is made by an ordered
// list of Matchers; the first matcher that accepts the tokenised line wins.
package shell
