package main

// manPage is the -man output: the information a `man logengine` page
// would carry, kept inline so the binary is self-documenting.
const manPage = `NAME
    logengine - streaming log-analysis engine

SYNOPSIS
    logengine -rules script [-rules script ...] [-logfile path ...] [options]

DESCRIPTION
    logengine scans one or more log files line by line and fires
    user-defined actions when declarative rules match against sequences
    of lines. Rules are loaded from INI-like scripts; each rule declares
    PRE/BEGIN/OPTIONAL/END match clauses, per-rule variables, and
    ACTION.* handlers run at lifecycle events (CREATE, COMPLETE,
    DESTROY, TIMEOUT, MATCH_TIMEOUT, MISSING, INCOMPLETE).

OPTIONS
    -rules path       load a rule script (repeatable)
    -stdin            read a rule script from standard input
    -logfile path     scan a log file; "-" reads the log from stdin
    -forever          keep tailing subsequently-declared logfiles at EOF
    -noforever        stop at EOF for subsequently-declared logfiles
    -sort mode        asc|desc|none ordering for subsequent logfiles
    -status N         print a progress line every N seconds
    -study N          regex study hint (no-op for this backend)
    -buffer KB        per-file read buffer size
    -fast, -nofast    toggle the single-match fast path
    -dump             print the compiled rule model as YAML and exit
    -user name=value  define a user option (repeatable per name)
    -verbose, -debug  trace lifecycle events to stderr
    -title text       print a title line before the run starts
    -version          print version information and exit
    -help, -?, -usage print usage and exit
    -man              print this page and exit

EXIT STATUS
    0 success, 1 help, 2 invalid switch, 3 parse error, 4 bad arguments,
    5 no scripts, 6 script error, 7 general error.
`
