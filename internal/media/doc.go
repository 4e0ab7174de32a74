// Package media retrieves remote audio with yt-dlp.
//
// Fetcher runs yt-dlp with --newline so every progress update arrives as its
// own line, parses percent and ETA from "[download]" lines, and reports the
// final file path printed after post-processing.
package media
