/*
Package branch hosts several isolated request-processing branches in one process.

A Builder collects branches (name, mount paths, Module) and the shared service types they may
reach in the root container. Build turns each branch into a sealed container with forwarding
bindings to the root, binds the branch's consumers on the message bus, publishes the container
into the Bridge and compiles the Router. Nothing is published before it is fully built.

At runtime Host.Route serves requests inside a per-request scope of the matched branch, and
Host.Dispatch delivers messages through per-dispatch scopes of every consuming branch.
*/
package branch
